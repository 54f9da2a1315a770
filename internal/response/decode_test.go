package response

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/pdbfacts/internal/schema"
)

func TestDecode_Success(t *testing.T) {
	d := NewDecoder(nil)

	var out []map[string]any
	err := d.Decode(200, "OK", []byte(`[{"name":"kernel","value":"Linux"},{"name":"uptime","value":42}]`), &out)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Linux", out[0]["value"])
	assert.Equal(t, json.Number("42"), out[1]["value"])
}

func TestDecode_Malformed(t *testing.T) {
	d := NewDecoder(nil)

	for _, body := range []string{"", "{not json", `{"a":1} trailing`} {
		var out any
		err := d.Decode(200, "OK", []byte(body), &out)
		assert.ErrorIs(t, err, ErrMalformedResponse, "body %q", body)

		var merr *MalformedError
		assert.True(t, errors.As(err, &merr))
	}
}

func TestDecode_NotFound(t *testing.T) {
	d := NewDecoder(nil)

	var out any
	err := d.Decode(404, "Not Found", []byte(`{"error":"No information is known about node1"}`), &out)
	assert.ErrorIs(t, err, ErrNotFound)

	var rerr *RemoteError
	assert.False(t, errors.As(err, &rerr))
}

func TestDecode_RemoteErrorStripsNewlines(t *testing.T) {
	d := NewDecoder(nil)

	var out any
	err := d.Decode(500, "Server Error", []byte("line one\r\nline two\n"), &out)
	require.Error(t, err)

	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 500, rerr.StatusCode)
	assert.Equal(t, "line oneline two", rerr.Body)
	assert.Equal(t, "[500 Server Error] line oneline two", err.Error())
	assert.True(t, rerr.Transient())
}

func TestNewRemoteError_DefaultReason(t *testing.T) {
	err := NewRemoteError(400, "", []byte("bad"))
	assert.Equal(t, "Bad Request", err.Reason)
	assert.False(t, err.Transient())
}

func TestDecodeShape(t *testing.T) {
	d := NewDecoder(schema.NewValidator())
	shape := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "object", "required": []string{"name"}},
	}

	var out []map[string]any
	require.NoError(t, d.DecodeShape(200, "OK", []byte(`[{"name":"a"}]`), shape, &out))

	err := d.DecodeShape(200, "OK", []byte(`[{"certname":"a"}]`), shape, &out)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestSuccess(t *testing.T) {
	assert.True(t, Success(200))
	assert.True(t, Success(204))
	assert.False(t, Success(199))
	assert.False(t, Success(302))
}
