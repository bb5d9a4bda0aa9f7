package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextKey(t *testing.T) {
	assert.Equal(t, "documents/tender-1/text.txt", TextKey("tender-1"))
	assert.Equal(t, "documents/a/b/text.txt", TextKey("a/b"))
}
