package facts

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_RequiresNodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})

	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, ErrNoNodes)
	assert.Contains(t, err.Error(), "provide at least one node")
}

func TestStatus_EachNode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantAccept, r.Header.Get("Accept"))
		assert.Equal(t, wantContentType, r.Header.Get("Content-Type"))
		name := strings.TrimPrefix(r.URL.Path, "/pdb/query/v4/nodes/")
		switch name {
		case "c":
			w.WriteHeader(http.StatusNotFound)
		case "d":
			w.Write([]byte(`{"certname":"d","deactivated":"2024-01-01T00:00:00.000Z","facts_timestamp":null}`))
		default:
			w.Write([]byte(`{"certname":"` + name + `","deactivated":null,"expired":null,"facts_timestamp":"2024-02-01T10:00:00.000Z"}`))
		}
	})

	nodes := []string{"a", "b", "c", "d", "e"}
	statuses, err := c.Status(context.Background(), nodes...)
	require.NoError(t, err)
	require.Len(t, statuses, len(nodes))

	for i, n := range nodes {
		assert.Equal(t, n, statuses[i].Certname)
	}
	assert.True(t, statuses[0].Active())
	require.NotNil(t, statuses[0].FactsTimestamp)
	assert.Equal(t, "2024-02-01T10:00:00.000Z", *statuses[0].FactsTimestamp)
	assert.False(t, statuses[2].Found)
	assert.False(t, statuses[2].Active())
	assert.True(t, statuses[3].Found)
	assert.False(t, statuses[3].Active())
}

func TestStatus_EscapesNodeNames(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pdb/query/v4/nodes/foo%2F%2B%2A%26bar", r.RequestURI)
		w.Write([]byte(`{"certname":"foo/+*&bar"}`))
	})

	statuses, err := c.Status(context.Background(), "foo/+*&bar")
	require.NoError(t, err)
	assert.True(t, statuses[0].Found)
}

func TestStatus_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Status(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
