package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/go-spotify-playback/internal/playback"
)

// CurrentPlayback fetches the user's playback state. It returns nil, nil when
// no device is active.
func (c *Client) CurrentPlayback(ctx context.Context, market string) (*playback.Payload, error) {
	q := url.Values{}
	if market != "" {
		q.Set("market", market)
	}

	var resp playerResponse
	status, err := c.do(ctx, http.MethodGet, "me/player", q, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("getting playback state: %w", err)
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return resp.toPayload(), nil
}

// TransferPlayback moves playback to deviceID.
func (c *Client) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	if err := c.api.TransferPlayback(ctx, spotify.ID(deviceID), play); err != nil {
		return mapError(err)
	}
	return nil
}

type playBody struct {
	ContextURI string      `json:"context_uri,omitempty"`
	URIs       []string    `json:"uris,omitempty"`
	Offset     *offsetJSON `json:"offset,omitempty"`
	PositionMs *int        `json:"position_ms,omitempty"`
}

type offsetJSON struct {
	Position *int   `json:"position,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Play starts playback. A resume request carries only the position so the
// current item continues where it was.
func (c *Client) Play(ctx context.Context, req playback.PlayRequest) error {
	q := url.Values{}
	if req.DeviceID != "" {
		q.Set("device_id", req.DeviceID)
	}

	var body playBody
	if req.IsResume() {
		pos := req.PositionMs
		body.PositionMs = &pos
	} else {
		body.ContextURI = req.ContextURI
		body.URIs = req.URIs
		if req.Offset != nil {
			body.Offset = &offsetJSON{Position: req.Offset.Position, URI: req.Offset.URI}
		}
	}

	if _, err := c.do(ctx, http.MethodPut, "me/player/play", q, body, nil); err != nil {
		return fmt.Errorf("starting playback: %w", err)
	}
	return nil
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) error {
	return mapError(c.api.Pause(ctx))
}

// Seek moves to positionMs in the current track.
func (c *Client) Seek(ctx context.Context, positionMs int) error {
	return mapError(c.api.Seek(ctx, positionMs))
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context) error {
	return mapError(c.api.Next(ctx))
}

// Previous skips to the previous track.
func (c *Client) Previous(ctx context.Context) error {
	return mapError(c.api.Previous(ctx))
}

// Shuffle turns shuffle on or off.
func (c *Client) Shuffle(ctx context.Context, on bool) error {
	return mapError(c.api.Shuffle(ctx, on))
}

// Repeat sets the repeat mode.
func (c *Client) Repeat(ctx context.Context, mode playback.RepeatMode) error {
	return mapError(c.api.Repeat(ctx, mode.String()))
}

// SetVolume sets the active device's volume.
func (c *Client) SetVolume(ctx context.Context, percent int) error {
	return mapError(c.api.Volume(ctx, percent))
}

// Devices lists the user's Connect devices.
func (c *Client) Devices(ctx context.Context) ([]playback.Device, error) {
	devices, err := c.api.PlayerDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting devices: %w", mapError(err))
	}

	result := make([]playback.Device, 0, len(devices))
	for _, d := range devices {
		result = append(result, playback.Device{
			ID:            d.ID.String(),
			Name:          d.Name,
			Type:          d.Type,
			IsActive:      d.Active,
			VolumePercent: int(d.Volume),
		})
	}
	return result, nil
}

// do sends a JSON request relative to the API root and decodes a JSON
// response into out. Error bodies are decoded into the library's error type
// so callers see the same errors as from library calls.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) (int, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, mapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error spotify.Error `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error.Status == 0 {
			e.Error.Status = resp.StatusCode
			e.Error.Message = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, mapError(e.Error)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
