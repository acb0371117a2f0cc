package store

import (
	"crypto/sha256"
	"fmt"
)

// HashContent returns the hex sha256 of a source file's bytes. Indexing
// skips files whose hash is unchanged.
func HashContent(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ComputeDefinitionHash computes a deterministic hash from a variable's
// semantic identity. The source file and row IDs do NOT affect the hash, so
// moving a class between files does not count as a change.
func ComputeDefinitionHash(v *Variable) (string, error) {
	def, err := marshalValue(v.Default)
	if err != nil {
		return "", fmt.Errorf("definition hash %q: default: %w", v.Name, err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "name:%s\n", v.Name)
	fmt.Fprintf(h, "entity:%s\n", v.Entity)
	fmt.Fprintf(h, "period:%s\n", v.Period)
	fmt.Fprintf(h, "value_type:%s\n", v.ValueType)
	fmt.Fprintf(h, "default:%s\n", def)
	fmt.Fprintf(h, "label:%s\n", v.Label)
	fmt.Fprintf(h, "formula:%s\n", v.Formula)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
