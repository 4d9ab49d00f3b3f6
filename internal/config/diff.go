package config

import (
	"encoding/json"

	"github.com/fia-cloud/fia/pkg/money"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Diff reports how desired differs from current, or "" when they are
// equivalent. Both sides go through the stored JSON form first so a YAML
// integer and a stored float compare equal.
func Diff(current, desired Snapshot) (string, error) {
	a, err := normalize(current)
	if err != nil {
		return "", err
	}
	b, err := normalize(desired)
	if err != nil {
		return "", err
	}

	return cmp.Diff(a, b,
		cmpopts.EquateEmpty(),
		cmp.Comparer(func(x, y money.Rate) bool { return x.Equal(y) }),
	), nil
}

func normalize(snap Snapshot) (Snapshot, error) {
	doc, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, err
	}

	var out Snapshot
	if err := json.Unmarshal(doc, &out); err != nil {
		return Snapshot{}, err
	}
	return out, nil
}
