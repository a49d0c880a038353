package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
)

func videos(t *testing.T) *repository.MemoryRepository[domain.Video] {
	t.Helper()
	repo := repository.NewMemoryRepository[domain.Video](domain.CollectionVideos)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, domain.Video{ID: "live", Status: domain.Live{StartedTimestamp: 1}}))
	require.NoError(t, repo.Save(ctx, domain.Video{ID: "soon", Status: domain.Scheduled{Timestamp: 1}}))
	require.NoError(t, repo.Save(ctx, domain.Video{ID: "done", Status: domain.Published{}}))
	require.NoError(t, repo.Save(ctx, domain.Video{ID: "busy", Status: domain.Processing{}}))
	return repo
}

type failingLookup struct{}

func (failingLookup) Get(context.Context, string) (domain.Video, error) {
	return domain.Video{}, errors.New("redis down")
}

func TestJoinTransitions(t *testing.T) {
	ctx := context.Background()
	repo := videos(t)

	tests := []struct {
		room    string
		wantErr error
	}{
		{"live", nil},
		{"soon", nil},
		{"done", ErrRoomNotJoinable},
		{"busy", ErrRoomNotJoinable},
		{"missing", ErrRoomNotFound},
		{"", ErrRoomNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.room, func(t *testing.T) {
			s := New("Anon1")
			next, action, err := s.Apply(ctx, domain.Join{Room: tt.room}, repo)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrRejected)
				assert.Nil(t, action)
				assert.Equal(t, s, next)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Subscribe{Room: tt.room}, action)
			assert.Equal(t, tt.room, next.Room)
		})
	}
}

func TestLookupFailureIsNotARejection(t *testing.T) {
	_, _, err := New("Anon1").Apply(context.Background(), domain.Join{Room: "live"}, failingLookup{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestUnjoinedNeverEmitsSideEffects(t *testing.T) {
	ctx := context.Background()
	repo := videos(t)

	inputs := []domain.Packet{
		domain.ClientMessage{Message: "hi"},
		domain.GetInvoice{Amount: 5000, Message: "gg"},
		domain.UpdateViewers{Viewers: 3},
		domain.ServerMessage{From: "x", Message: "spoof"},
		domain.Join{Room: "done"},
		domain.Invoice{ID: "i"},
		domain.AssignedUsername{Username: "u"},
	}

	s := New("Anon1")
	for _, in := range inputs {
		next, action, err := s.Apply(ctx, in, repo)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Nil(t, action)
		assert.False(t, next.Joined())
		s = next
	}
}

func TestJoinedTransitions(t *testing.T) {
	ctx := context.Background()
	repo := videos(t)

	s, _, err := New("Anon7").Apply(ctx, domain.Join{Room: "live"}, repo)
	require.NoError(t, err)

	next, action, err := s.Apply(ctx, domain.ClientMessage{Message: "hi"}, repo)
	require.NoError(t, err)
	assert.Equal(t, s, next)
	assert.Equal(t, Broadcast{Room: "live", Message: domain.ServerMessage{From: "Anon7", Message: "hi"}}, action)

	_, action, err = s.Apply(ctx, domain.GetInvoice{Amount: 5000, Message: "gg"}, repo)
	require.NoError(t, err)
	assert.Equal(t, CreateInvoice{Room: "live", From: "Anon7", Amount: 5000, Message: "gg"}, action)

	for _, in := range []domain.Packet{
		domain.ClientMessage{},
		domain.Join{Room: "soon"},
		domain.UpdateViewers{},
	} {
		next, action, err := s.Apply(ctx, in, repo)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Nil(t, action)
		assert.Equal(t, "live", next.Room)
	}
}
