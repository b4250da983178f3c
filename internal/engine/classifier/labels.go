package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/crimson-sun/slant/internal/model"
)

// loadLabelMap reads label_map.json. Two layouts are accepted: a JSON array
// in head order (["LEFT","CENTER","RIGHT"]) or the HuggingFace id2label
// object ({"0":"LEFT","1":"CENTER","2":"RIGHT"}).
func loadLabelMap(path string) (model.LabelSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.LabelSet{}, fmt.Errorf("label map: %w", err)
	}
	labels, err := parseLabelMap(data)
	if err != nil {
		return model.LabelSet{}, fmt.Errorf("label map %s: %w", path, err)
	}
	return model.NewLabelSet(labels)
}

func parseLabelMap(data []byte) ([]model.Label, error) {
	var arr []model.Label
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}

	var byIndex map[string]model.Label
	if err := json.Unmarshal(data, &byIndex); err != nil {
		return nil, fmt.Errorf("expected array or index object: %w", err)
	}
	out := make([]model.Label, len(byIndex))
	seen := make([]bool, len(byIndex))
	for k, v := range byIndex {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, err)
		}
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		if seen[idx] {
			return nil, fmt.Errorf("label index %d repeated", idx)
		}
		seen[idx] = true
		out[idx] = v
	}
	return out, nil
}
