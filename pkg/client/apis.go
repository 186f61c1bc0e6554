package client

import (
	"encoding/json"
	"net/url"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/config"
	"github.com/charlie0129/battime/pkg/history"
	"github.com/charlie0129/battime/pkg/types"
	"github.com/charlie0129/battime/pkg/warning"
)

func getJSON[T any](c *Client, path, what string) (T, error) {
	var v T
	ret, err := c.Get(path)
	if err != nil {
		return v, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return v, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return v, nil
}

func putJSON(c *Client, path string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return c.Put(path, string(payload))
}

func (c *Client) GetStatus() (*types.Status, error) {
	st, err := getJSON[types.Status](c, "/status", "status")
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) GetCells() ([]cell.State, error) {
	return getJSON[[]cell.State](c, "/cells", "cells")
}

// GetProfile returns the discharging or the charging profile.
func (c *Client) GetProfile(discharging bool) (*types.Profile, error) {
	mode := "charging"
	if discharging {
		mode = "discharging"
	}
	p, err := getJSON[types.Profile](c, "/profile?mode="+mode, mode+" profile")
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func historyQuery(kind cell.Kind, since string) url.Values {
	q := url.Values{}
	q.Set("kind", kind.String())
	if since != "" {
		q.Set("since", since)
	}
	return q
}

// GetHistory returns the recorded samples of kind. since is a duration
// such as "2h" or a unix timestamp.
func (c *Client) GetHistory(kind cell.Kind, since string) ([]history.Sample, error) {
	return getJSON[[]history.Sample](c, "/history?"+historyQuery(kind, since).Encode(), "history")
}

// GetRate returns the smoothed rate of kind over the window since.
func (c *Client) GetRate(kind cell.Kind, since string, slew int) (*types.Rate, error) {
	q := historyQuery(kind, since)
	if slew > 0 {
		q.Set("slew", strconv.Itoa(slew))
	}
	r, err := getJSON[types.Rate](c, "/history/rate?"+q.Encode(), "rate")
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	conf, err := getJSON[config.RawFileConfig](c, "/config", "config")
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	return getJSON[string](c, "/version", "version")
}

func (c *Client) SetPolicy(p warning.Policy) (string, error) {
	return putJSON(c, "/policy", p.String())
}

func (c *Client) SetThresholds(th warning.Thresholds) (string, error) {
	return putJSON(c, "/thresholds", th)
}

func (c *Client) SetSmoothing(i int) (string, error) {
	return c.Put("/smoothing", strconv.Itoa(i))
}

func (c *Client) SetUseProfile(enabled bool) (string, error) {
	return c.Put("/use-profile", strconv.FormatBool(enabled))
}

func (c *Client) SetGapFill(enabled bool) (string, error) {
	return c.Put("/gap-fill", strconv.FormatBool(enabled))
}
