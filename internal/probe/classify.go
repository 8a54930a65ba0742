package probe

import (
	"strings"

	"modelprobe/pkg/types"
)

// Signature maps a substring of backend output to a failure kind.
type Signature struct {
	Match string
	Kind  types.ErrorKind
}

// Signatures is evaluated in order; the first match wins. Module errors come
// before import errors because "ModuleNotFoundError" is a subclass of
// ImportError and its lines often mention both.
var Signatures = []Signature{
	{"ModuleNotFoundError", types.KindModule},
	{"No module named", types.KindModule},
	{"ImportError", types.KindImport},
	{"cannot import name", types.KindImport},
	{"CUDA out of memory", types.KindMemory},
	{"torch.OutOfMemoryError", types.KindMemory},
	{"OutOfMemoryError", types.KindMemory},
	{"No available memory for the cache blocks", types.KindMemory},
	{"CUDA error: out of memory", types.KindMemory},
}

// Match is the result of a successful classification.
type Match struct {
	Kind      types.ErrorKind
	Signature string
	// Line is the first output line containing the signature.
	Line string
}

// Classify scans lines for fatal signatures using the default table.
func Classify(lines []string) (Match, bool) {
	return ClassifyWith(Signatures, lines)
}

// ClassifyWith is Classify over an explicit table. Signature order takes
// precedence over line order.
func ClassifyWith(table []Signature, lines []string) (Match, bool) {
	for _, sig := range table {
		for _, l := range lines {
			if strings.Contains(l, sig.Match) {
				return Match{Kind: sig.Kind, Signature: sig.Match, Line: strings.TrimSpace(l)}, true
			}
		}
	}
	return Match{}, false
}
