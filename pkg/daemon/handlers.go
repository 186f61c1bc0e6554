package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/config"
	"github.com/charlie0129/battime/pkg/history"
	"github.com/charlie0129/battime/pkg/series"
	"github.com/charlie0129/battime/pkg/types"
	"github.com/charlie0129/battime/pkg/version"
	"github.com/charlie0129/battime/pkg/warning"
)

const (
	defaultHistoryWindow = time.Hour
	defaultRateSlew      = 5
	queryTimeout         = 5 * time.Second
)

func (d *Daemon) setupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", d.getStatus)
	router.GET("/cells", d.getCells)
	router.GET("/profile", d.getProfile)
	router.GET("/history", d.getHistory)
	router.GET("/history/rate", d.getHistoryRate)
	router.GET("/config", d.getConfig)
	router.PUT("/policy", d.setPolicy)
	router.PUT("/thresholds", d.setThresholds)
	router.PUT("/smoothing", d.setSmoothing)
	router.PUT("/use-profile", d.setUseProfile)
	router.PUT("/gap-fill", d.setGapFill)
	router.GET("/events", d.streamEvents)
	router.GET("/version", getVersion)

	return router
}

func abort(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

// Status builds the status of every present kind.
func (d *Daemon) Status() types.Status {
	onAC := false
	if d.ac != nil {
		onAC = d.ac.OnAC()
	}

	primary := d.aggs[cell.KindPrimary].Composite()
	ups := d.aggs[cell.KindUPS].Composite()
	trusted := d.profile.Trusted(primary.IsDischarging)

	st := types.Status{
		OnAC:            onAC,
		Summary:         cell.Summary(onAC, primary, ups, trusted),
		ProfileIdentity: d.aggs[cell.KindPrimary].Identity(),
		ProfileTrusted:  trusted,
	}
	for _, kind := range cell.Kinds {
		comp := d.aggs[kind].Composite()
		if !comp.IsPresent {
			continue
		}
		ks := types.KindStatus{
			Composite:    comp,
			Description:  cell.Describe(comp, d.conf.ChargedThreshold()),
			WarningLevel: d.engine.Last(kind).String(),
		}
		if comp.Capacity > 0 {
			ks.Condition = cell.Condition(comp.Capacity)
		}
		st.Kinds = append(st.Kinds, ks)
	}
	return st
}

func (d *Daemon) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.Status())
}

func (d *Daemon) getCells(c *gin.Context) {
	cells := make([]cell.State, 0)
	for _, kind := range cell.Kinds {
		cells = append(cells, d.aggs[kind].Cells()...)
	}
	c.IndentedJSON(http.StatusOK, cells)
}

func parseMode(s string) (discharging bool, err error) {
	switch s {
	case "", "discharging":
		return true, nil
	case "charging":
		return false, nil
	default:
		return false, fmt.Errorf("mode must be charging or discharging, got %q", s)
	}
}

func (d *Daemon) getProfile(c *gin.Context) {
	discharging, err := parseMode(c.Query("mode"))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	mode := "charging"
	if discharging {
		mode = "discharging"
	}
	primary := d.aggs[cell.KindPrimary].Composite()
	c.IndentedJSON(http.StatusOK, types.Profile{
		Identity:        d.profile.Identity(),
		Mode:            mode,
		AccuracyAverage: d.profile.AccuracyAverage(discharging),
		Trusted:         d.profile.Trusted(discharging),
		Buckets:         d.profile.Buckets(discharging),
		Estimate:        d.profile.Time(int(math.Round(primary.Percentage)), discharging),
	})
}

// parseSince accepts a duration ("2h") back from now or a unix timestamp.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.Add(-defaultHistoryWindow), nil
	}
	if dur, err := time.ParseDuration(s); err == nil {
		if dur < 0 {
			return time.Time{}, fmt.Errorf("since must not be negative, got %s", s)
		}
		return now.Add(-dur), nil
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("since must be a duration or a unix timestamp, got %q", s)
	}
	return time.Unix(ts, 0), nil
}

func parseKind(s string) (cell.Kind, error) {
	if s == "" {
		return cell.KindPrimary, nil
	}
	return cell.ParseKind(s)
}

func (d *Daemon) querySamples(c *gin.Context) (cell.Kind, time.Time, []history.Sample, bool) {
	kind, err := parseKind(c.Query("kind"))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return 0, time.Time{}, nil, false
	}
	since, err := parseSince(c.Query("since"), d.now())
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return 0, time.Time{}, nil, false
	}
	if d.history == nil {
		return kind, since, nil, true
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	samples, err := d.history.Since(ctx, kind, since)
	if err != nil {
		logrus.WithError(err).Error("failed to query history")
		abort(c, http.StatusInternalServerError, err)
		return 0, time.Time{}, nil, false
	}
	return kind, since, samples, true
}

func (d *Daemon) getHistory(c *gin.Context) {
	if d.history == nil {
		abort(c, http.StatusServiceUnavailable, errors.New("history is disabled"))
		return
	}
	_, _, samples, ok := d.querySamples(c)
	if !ok {
		return
	}
	if samples == nil {
		samples = []history.Sample{}
	}
	c.IndentedJSON(http.StatusOK, samples)
}

// getHistoryRate smooths the percentage history into a rate in percent per
// hour. Without a history database the in-memory primary series is used.
func (d *Daemon) getHistoryRate(c *gin.Context) {
	slew := defaultRateSlew
	if s := c.Query("slew"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			abort(c, http.StatusBadRequest, fmt.Errorf("slew must be a positive integer, got %q", s))
			return
		}
		slew = v
	}

	kind, since, samples, ok := d.querySamples(c)
	if !ok {
		return
	}

	var pct *series.Series
	if d.history != nil {
		pct = history.PercentSeries(samples)
	} else if kind == cell.KindPrimary {
		pct = d.liveSeries()
	} else {
		pct = series.New()
	}

	c.IndentedJSON(http.StatusOK, types.Rate{
		Kind:   kind.String(),
		Since:  since.Unix(),
		Slew:   slew,
		Points: ratePoints(pct, slew),
	})
}

// ratePoints pairs every LSRL rate with the percentage it was computed at.
func ratePoints(pct *series.Series, slew int) []types.RatePoint {
	points := make([]types.RatePoint, 0)

	rate := pct.ComputeRateLSRL(slew)
	offset, ok := series.AlignOffset(rate, pct)
	if !ok {
		return points
	}
	for i := 0; i < rate.Len(); i++ {
		r, _ := rate.Get(i)
		p, ok := pct.Get(i + offset)
		if !ok {
			break
		}
		points = append(points, types.RatePoint{
			Time:       r.X,
			Percentage: p.Y,
			// slope is scaled by 10000 and in percent per second
			PercentPerHour: float64(r.Y) / 10000 * 3600,
		})
	}
	return points
}

func (d *Daemon) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(d.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

// saveConfig persists the config and pushes it into every component.
func (d *Daemon) saveConfig(c *gin.Context) bool {
	if err := d.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return false
	}
	d.ApplyConfig()
	return true
}

func (d *Daemon) setPolicy(c *gin.Context) {
	var s string
	if err := c.BindJSON(&s); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	p, err := warning.ParsePolicy(s)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	d.conf.SetPolicy(p)
	if !d.saveConfig(c) {
		return
	}

	logrus.Infof("set warning policy to %s", p)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) setThresholds(c *gin.Context) {
	var th warning.Thresholds
	if err := c.BindJSON(&th); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := d.conf.SetThresholds(th); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if !d.saveConfig(c) {
		return
	}

	logrus.WithField("thresholds", th).Info("set warning thresholds")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) setSmoothing(c *gin.Context) {
	var i int
	if err := c.BindJSON(&i); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := d.conf.SetSmoothing(i); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if !d.saveConfig(c) {
		return
	}

	logrus.Infof("set profile smoothing to %d", i)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) setUseProfile(c *gin.Context) {
	var b bool
	if err := c.BindJSON(&b); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	d.conf.SetUseProfile(b)
	if !d.saveConfig(c) {
		return
	}

	logrus.Infof("set use profile to %t", b)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) setGapFill(c *gin.Context) {
	var b bool
	if err := c.BindJSON(&b); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	d.conf.SetGapFill(b)
	if !d.saveConfig(c) {
		return
	}

	logrus.Infof("set profile gap fill to %t", b)
	c.IndentedJSON(http.StatusCreated, "ok")
}

// streamEvents relays hub events as server-sent events until the client
// goes away or the hub is closed.
func (d *Daemon) streamEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
