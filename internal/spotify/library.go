package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

// IsSaved reports whether trackID is in the user's Liked Songs.
func (c *Client) IsSaved(ctx context.Context, trackID string) (bool, error) {
	has, err := c.api.UserHasTracks(ctx, spotify.ID(trackID))
	if err != nil {
		return false, fmt.Errorf("checking library for %s: %w", trackID, mapError(err))
	}
	return len(has) > 0 && has[0], nil
}

// SetSaved adds trackID to, or removes it from, the user's Liked Songs.
func (c *Client) SetSaved(ctx context.Context, trackID string, saved bool) error {
	id := spotify.ID(trackID)
	var err error
	if saved {
		err = c.api.AddTracksToLibrary(ctx, id)
	} else {
		err = c.api.RemoveTracksFromLibrary(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("updating library for %s: %w", trackID, mapError(err))
	}
	return nil
}
