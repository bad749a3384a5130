package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/persist"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func doc(device string) persist.Document {
	return persist.Document{
		Version: persist.Version,
		Objects: []persist.Object{{
			Name: "hand",
			Gops: []persist.Gop{{
				InfoType:        axis.Scalar,
				Mappings:        []persist.Triple{{Device: device, Input: "grip", Mapping: axis.ChannelValue}},
				Mode:            axis.Absolute,
				UseOnThisObject: true,
			}},
		}},
	}
}

func TestSaveLoad(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	first, err := s.Save(ctx, "patient-a", doc("glove"))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "patient-a", first.Name)

	got, err := s.Load(ctx, "patient-a")
	require.NoError(t, err)
	assert.Equal(t, doc("glove"), got)

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	second, err := s.Save(ctx, "patient-a", doc("leap"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	got, err = s.Load(ctx, "patient-a")
	require.NoError(t, err)
	assert.Equal(t, "leap", got.Objects[0].Gops[0].Mappings[0].Device)
}

func TestListAndDelete(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, name := range []string{"zoe", "adam", "maria"} {
		_, err := s.Save(ctx, name, doc("glove"))
		require.NoError(t, err)
	}
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "adam", list[0].Name)
	assert.Equal(t, "zoe", list[2].Name)

	require.NoError(t, s.Delete(ctx, "maria"))
	assert.ErrorIs(t, s.Delete(ctx, "maria"), ErrNotFound)

	_, err = s.Load(ctx, "maria")
	assert.ErrorIs(t, err, ErrNotFound)
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSaveRejectsEmptyName(t *testing.T) {
	_, err := open(t).Save(context.Background(), "", doc("glove"))
	assert.Error(t, err)
}
