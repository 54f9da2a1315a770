package facts

// Response shapes checked before results are folded or projected.

var factRecordsSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type":     "object",
		"required": []string{"name", "value"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	},
}

var nodeRecordsSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"anyOf": []any{
			map[string]any{"required": []string{"name"}},
			map[string]any{"required": []string{"certname"}},
		},
		"properties": map[string]any{
			"name":     map[string]any{"type": "string"},
			"certname": map[string]any{"type": "string"},
		},
	},
}

var nodeStatusSchema = map[string]any{
	"type":     "object",
	"required": []string{"certname"},
	"properties": map[string]any{
		"certname": map[string]any{"type": "string"},
	},
}
