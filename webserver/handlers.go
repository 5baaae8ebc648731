package webserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/worldsio/detectbridge"
	"github.com/worldsio/detectbridge/domain"
)

const (
	defaultHours  = 24
	defaultLimit  = 100
	maxLimit      = 1000
	maxStatsHours = 24 * 365
)

// API serves the JSON routes of the dashboard.
type API struct {
	bridge *detectbridge.Bridge
	repo   detectbridge.Repository
}

// NewAPI returns the handlers for bridge. bridge must have a repository.
func NewAPI(bridge *detectbridge.Bridge) API {
	return API{bridge: bridge, repo: bridge.Repo}
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func jobStatus(err error) int {
	switch {
	case errors.Is(err, detectbridge.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, detectbridge.ErrMissingProducerID):
		return http.StatusBadRequest
	case errors.Is(err, detectbridge.ErrNoUpstream), errors.Is(err, detectbridge.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RunQueries starts the query job.
func (a API) RunQueries(c *gin.Context) {
	if err := a.bridge.RunQueries(); err != nil {
		fail(c, jobStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "message": "Queries are running in background"})
}

// QueryResults returns the state of the query job.
func (a API) QueryResults(c *gin.Context) {
	c.JSON(http.StatusOK, a.bridge.QueryResults())
}

// RunMutations starts the mutation job.
func (a API) RunMutations(c *gin.Context) {
	if err := a.bridge.RunMutations(); err != nil {
		fail(c, jobStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "message": "Mutations are running in background"})
}

// MutationResults returns the state of the mutation job.
func (a API) MutationResults(c *gin.Context) {
	c.JSON(http.StatusOK, a.bridge.MutationResults())
}

// Devices lists the devices. Cached devices are served with the fetch error
// when the upstream API is unreachable.
func (a API) Devices(c *gin.Context) {
	devices, err := a.bridge.Devices(c.Request.Context())
	if devices == nil {
		devices = []*domain.DeviceRecord{}
	}
	body := gin.H{"devices": devices}
	switch {
	case err != nil:
		body["error"] = err.Error()
	case len(devices) == 0:
		body["error"] = "No devices found"
	}
	c.JSON(http.StatusOK, body)
}

// DatabaseStats returns the overall store counts.
func (a API) DatabaseStats(c *gin.Context) {
	stats, err := a.repo.GetDatabaseStats()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// DetectionStats returns per-device counts over the last hours. With a
// device_id the single aggregate object for that device is returned.
func (a API) DetectionStats(c *gin.Context) {
	hours, err := intQuery(c, "hours", defaultHours, 1, maxStatsHours)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	since := a.bridge.Now().Add(-time.Duration(hours) * time.Hour)

	deviceID := c.Query("device_id")
	stats, err := a.repo.GetDetectionStats(deviceID, since)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if deviceID != "" && len(stats) == 1 {
		c.JSON(http.StatusOK, stats[0])
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RecentDetections returns the newest detections.
func (a API) RecentDetections(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	detections, err := a.repo.GetRecentDetections(limit, c.Query("device_id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, detections)
}

// DetectionsByTime returns the detections between start_time and end_time.
func (a API) DetectionsByTime(c *gin.Context) {
	rawStart, rawEnd := c.Query("start_time"), c.Query("end_time")
	if rawStart == "" || rawEnd == "" {
		fail(c, http.StatusBadRequest, errors.New("start_time and end_time are required"))
		return
	}
	start, err := domain.ParseTime(rawStart)
	if err != nil {
		fail(c, http.StatusBadRequest, errors.New("invalid start_time"))
		return
	}
	end, err := domain.ParseTime(rawEnd)
	if err != nil {
		fail(c, http.StatusBadRequest, errors.New("invalid end_time"))
		return
	}

	detections, err := a.repo.GetDetectionsByTimeRange(start, end, c.Query("device_id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, detections)
}

// Tags returns every tag with its counts.
func (a API) Tags(c *gin.Context) {
	tags, err := a.repo.GetAllTags()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

// LongestTracks returns the most observed track of every tag.
func (a API) LongestTracks(c *gin.Context) {
	tracks, err := a.repo.GetLongestTrackPerTag()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, tracks)
}

// Events returns the stored events, newest first.
func (a API) Events(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	events, err := a.repo.GetEvents(limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// Logs returns the stored bridge log, newest first.
func (a API) Logs(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	logs, err := a.bridge.Logs(limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// Subscriptions lists the live device subscriptions.
func (a API) Subscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, a.bridge.Subscriptions())
}

// StopSubscription ends the subscription of a device and forgets it.
func (a API) StopSubscription(c *gin.Context) {
	if err := a.bridge.Stop(c.Param("device_id")); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Health reports that the server is up.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func intQuery(c *gin.Context, name string, fallback, min, max int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || value > max {
		return 0, errors.New(name + " must be an integer between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return value, nil
}
