package main

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The /openapi.yaml route serves this file relative to the process
// working directory, and /swagger/* renders it.
func TestOpenAPIDocumentIsCheckedIn(t *testing.T) {
	data, err := os.ReadFile("../../api/openapi.yaml")
	require.NoError(t, err)

	doc := string(data)
	assert.True(t, strings.HasPrefix(doc, "openapi:"))

	for _, route := range []string{
		"/api/v1/images/process",
		"/api/v1/images/status/{jobID}",
		"/api/v1/images/jobs",
		"/api/v1/images/jobs/{jobID}",
		"/api/v1/images/download/{jobID}/{index}",
		"/api/v1/credits/balance",
		"/api/v1/credits/transactions",
		"/api/v1/credits/purchase",
		"/api/v1/credits/grant",
		"/health",
	} {
		assert.Contains(t, doc, route+":")
	}
}
