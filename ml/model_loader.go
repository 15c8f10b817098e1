package ml

import (
	"fmt"
)

// LoadModel reads a model file and returns the regressor it holds.
func LoadModel(path string) (Regressor, error) {
	envelope, err := readEnvelope(path)
	if err != nil {
		return nil, err
	}
	switch envelope.Kind {
	case KindRandomForest:
		forest := &RandomForest{}
		if err := forest.restore(envelope); err != nil {
			return nil, err
		}
		return forest, nil
	default:
		return nil, fmt.Errorf("unsupported model kind %q", envelope.Kind)
	}
}
