package postgres

import (
	"strings"

	"github.com/orcheo-io/workflow-engine/internal/domain"
	"github.com/orcheo-io/workflow-engine/internal/variables"
)

// encodeValueMap renders m as the same canonical JSON object encoding
// internal/variables uses for Object-kind Values, so config/context blobs
// stored alongside instances and variable rows share one encoding scheme.
func encodeValueMap(m map[string]domain.Value) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	return variables.Encode(domain.NewObject(m))
}

func decodeValueMap(s string) (map[string]domain.Value, error) {
	if s == "" {
		return map[string]domain.Value{}, nil
	}
	v, err := variables.Decode(s, domain.VarObject)
	if err != nil {
		return nil, err
	}
	if v.Object == nil {
		return map[string]domain.Value{}, nil
	}
	return v.Object, nil
}

func joinTags(tags []string) string { return strings.Join(tags, ",") }

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
