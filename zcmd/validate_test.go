package zcmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePoolName(t *testing.T) {
	valid := []string{"tank", "tank2", "my-pool", "my_pool", "a", "Pool.backup"}
	for _, name := range valid {
		assert.NoError(t, ValidatePoolName(name), name)
	}

	invalid := []string{"", "2tank", "-tank", "tank pool", "tank/fs", "tank@snap", "tank;rm", "../etc", "tank\n"}
	for _, name := range invalid {
		err := ValidatePoolName(name)
		require.Error(t, err, name)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr, name)
	}
}

func TestValidateDatasetPath(t *testing.T) {
	valid := []string{"tank", "tank/data", "tank/data/deep", "tank/my-fs_1.0"}
	for _, path := range valid {
		assert.NoError(t, ValidateDatasetPath(path), path)
	}

	invalid := []string{"", "/tank", "tank/", "tank//data", "tank/da ta", "tank/data@snap", "tank/$(id)"}
	for _, path := range invalid {
		assert.Error(t, ValidateDatasetPath(path), path)
	}
}

func TestValidateSnapshot(t *testing.T) {
	valid := []string{"tank@snap", "tank/data@daily-2025-08-27", "tank/data@snap_1.0:b"}
	for _, snap := range valid {
		assert.NoError(t, ValidateSnapshot(snap), snap)
	}

	invalid := []string{"", "tank", "tank@", "@snap", "tank@sn ap", "tank@snap@extra", "tank/@snap"}
	for _, snap := range invalid {
		assert.Error(t, ValidateSnapshot(snap), snap)
	}
}

func TestValidateBookmark(t *testing.T) {
	assert.NoError(t, ValidateBookmark("tank/data#mark1"))
	assert.Error(t, ValidateBookmark("tank/data"))
	assert.Error(t, ValidateBookmark("tank/data#"))
	assert.Error(t, ValidateBookmark("#mark"))
}

func TestValidatePropertyName(t *testing.T) {
	valid := []string{"compression", "recordsize", "com.sun:auto-snapshot"}
	for _, p := range valid {
		assert.NoError(t, ValidatePropertyName(p), p)
	}

	invalid := []string{"", "Compression", "record size", "prop=value", "9prop"}
	for _, p := range invalid {
		assert.Error(t, ValidatePropertyName(p), p)
	}
}
