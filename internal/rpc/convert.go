package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/faceattend/faceattend/internal/api"
	"github.com/faceattend/faceattend/internal/engine"
	"google.golang.org/protobuf/types/known/structpb"
)

// resultToStruct encodes a result with the same field names as the HTTP API
func resultToStruct(result *engine.Result) (*structpb.Struct, error) {
	data, err := json.Marshal(api.NewCheckResponse(result))
	if err != nil {
		return nil, err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	return structpb.NewStruct(fields)
}

// structToResponse decodes a response struct back into a check response
func structToResponse(s *structpb.Struct) (*api.CheckResponse, error) {
	data, err := s.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode response struct: %w", err)
	}

	var resp api.CheckResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}
