package patterns

import (
	"context"
	"sync"

	"duneweaver/internal/duneweaver"
)

// fakeDevice is an in-memory table. Playlists missing from the map are
// reported as not found.
type fakeDevice struct {
	mu            sync.Mutex
	playlists     map[string][]string
	playlistErrs  map[string]error
	all           []string
	allErr        error
	runErr        error
	playlistCalls []string
	listCalls     int
	runs          []string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		playlists:    make(map[string][]string),
		playlistErrs: make(map[string]error),
	}
}

func (f *fakeDevice) GetPlaylist(ctx context.Context, name string) (*duneweaver.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.playlistCalls = append(f.playlistCalls, name)
	if err, ok := f.playlistErrs[name]; ok {
		return nil, err
	}
	files, ok := f.playlists[name]
	if !ok {
		return nil, duneweaver.ErrPlaylistNotFound
	}
	return &duneweaver.Playlist{Name: name, Files: files}, nil
}

func (f *fakeDevice) ListThetaRhoFiles(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	return f.all, f.allErr
}

func (f *fakeDevice) RunThetaRho(ctx context.Context, fileName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.runErr != nil {
		return f.runErr
	}
	f.runs = append(f.runs, fileName)
	return nil
}
