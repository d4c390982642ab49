package store

import (
	"encoding/json"

	"github.com/telecare-labs/callbridge/internal/models"
)

func marshalPayload(p *models.SignalPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalPayload(data string, p *models.SignalPayload) error {
	return json.Unmarshal([]byte(data), p)
}
