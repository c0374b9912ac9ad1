package transform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datastudio/internal/dataset"
	"datastudio/internal/testsupport"
)

func openFixture(t *testing.T, fixture testsupport.DatasetFixture) *dataset.Dataset {
	t.Helper()
	if fixture.Root == "" {
		fixture.Root = filepath.Join(t.TempDir(), filepath.FromSlash(fixture.RepoID))
	}
	ds, err := dataset.Open(testsupport.WriteDataset(t, fixture))
	require.NoError(t, err)
	return ds
}

func TestValidateCompatibility(t *testing.T) {
	supported := []string{"v2.1"}
	base := openFixture(t, testsupport.DatasetFixture{RepoID: "lab/a", FPS: 30, Episodes: []testsupport.EpisodeFixture{{Length: 2, Tasks: []string{"pick"}}}})

	t.Run("compatible", func(t *testing.T) {
		other := openFixture(t, testsupport.DatasetFixture{RepoID: "lab/b", FPS: 30, Episodes: []testsupport.EpisodeFixture{{Length: 3, Tasks: []string{"push"}}}})
		require.NoError(t, ValidateCompatibility([]*dataset.Dataset{base, other}, supported))
	})

	t.Run("fps mismatch", func(t *testing.T) {
		other := openFixture(t, testsupport.DatasetFixture{RepoID: "lab/b", FPS: 15, Episodes: []testsupport.EpisodeFixture{{Length: 3}}})
		err := ValidateCompatibility([]*dataset.Dataset{base, other}, supported)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fps mismatch")
	})

	t.Run("feature mismatch", func(t *testing.T) {
		other := openFixture(t, testsupport.DatasetFixture{RepoID: "lab/b", FPS: 30, VideoKeys: []string{"observation.images.top"}, Episodes: []testsupport.EpisodeFixture{{Length: 3}}})
		err := ValidateCompatibility([]*dataset.Dataset{base, other}, supported)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "feature mismatch")
	})

	t.Run("unsupported version", func(t *testing.T) {
		other := openFixture(t, testsupport.DatasetFixture{RepoID: "lab/b", FPS: 30, Version: "v3.0", Episodes: []testsupport.EpisodeFixture{{Length: 3}}})
		err := ValidateCompatibility([]*dataset.Dataset{base, other}, supported)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not supported")
	})

	t.Run("empty", func(t *testing.T) {
		require.Error(t, ValidateCompatibility(nil, supported))
	})
}

func TestValidateTimestamps(t *testing.T) {
	clean := openFixture(t, testsupport.DatasetFixture{RepoID: "lab/clean", FPS: 10, Episodes: []testsupport.EpisodeFixture{{Length: 20}, {Length: 5}}})
	require.NoError(t, ValidateTimestamps(clean, 1e-4, 1000))

	jittered := openFixture(t, testsupport.DatasetFixture{RepoID: "lab/jitter", FPS: 10, Episodes: []testsupport.EpisodeFixture{{Length: 5, Jitter: 0.01}}})
	err := ValidateTimestamps(jittered, 1e-4, 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drifts")

	require.NoError(t, ValidateTimestamps(jittered, 0.05, 1000))
	require.NoError(t, ValidateTimestamps(jittered, 0, 1000), "zero tolerance disables the check")
}
