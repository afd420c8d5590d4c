package session

import (
	"encoding/json"
	"strings"

	sctxerrors "github.com/leoric-crown/shared-context-server/pkg/errors"
)

const (
	maxPurposeLen = 500
	maxContentLen = 100_000
	maxMetadataKB = 10
)

func validatePurpose(purpose string) (string, error) {
	trimmed := strings.TrimSpace(purpose)
	if trimmed == "" {
		return "", sctxerrors.Validation("purpose must not be empty")
	}
	if len(trimmed) > maxPurposeLen {
		return "", sctxerrors.Validation("purpose must be at most 500 characters")
	}
	return trimmed, nil
}

func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", sctxerrors.Validation("content must not be empty after trimming")
	}
	if len(trimmed) > maxContentLen {
		return "", sctxerrors.Validation("content must be at most 100000 characters")
	}
	return trimmed, nil
}

func validateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return sctxerrors.Validation("metadata must be JSON-serializable")
	}
	if len(encoded) > maxMetadataKB*1024 {
		return sctxerrors.Validation("metadata must serialize to at most 10KB")
	}
	return nil
}

func validateVisibility(v Visibility) error {
	if !ValidVisibility(v) {
		return sctxerrors.Validation("visibility must be one of public, private, agent_only, admin_only")
	}
	return nil
}
