package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fdbk/fdbk"
	"github.com/fdbk/fdbk/summary"
	"github.com/gin-gonic/gin"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

func (s *Service) addRoutes() {
	r := s.router

	r.GET("/topics", s.getTopics)
	r.POST("/topics", s.addTopic)
	r.GET("/topics/:id", s.getTopic)
	r.GET("/topics/:id/data", s.getData)
	r.POST("/topics/:id/data", s.addData)
	r.GET("/topics/:id/data/latest", s.getLatest)
	r.GET("/topics/:id/summary", s.getSummary)
	r.GET("/comparison", s.getComparison)
	r.GET("/comparison/:ids", s.getComparison)
	r.GET("/overview", s.getOverview)
	r.GET("/overview/:type", s.getOverview)

	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
}

// presentError writes the error response and reports whether there was
// an error.
func presentError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fdbk.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fdbk.ErrValidation):
		status = http.StatusBadRequest
	default:
		grip.Error(message.WrapError(err, message.Fields{
			"message": "unexpected error",
			"path":    c.Request.URL.Path,
		}))
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
	return true
}

func parseTime(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	ts, err := fdbk.ParseTimestamp(v)
	return ts, errors.Wrapf(err, "invalid '%s'", key)
}

func parseInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(fdbk.ErrValidation, "'%s' must be an integer", key)
	}
	return n, nil
}

func parseBool(c *gin.Context, key string) (bool, error) {
	v := c.Query(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(fdbk.ErrValidation, "'%s' must be a boolean", key)
	}
	return b, nil
}

func parseQuery(c *gin.Context) (summary.Query, error) {
	var (
		q   summary.Query
		err error
	)

	catcher := grip.NewBasicCatcher()
	q.Since, err = parseTime(c, "since")
	catcher.Add(err)
	q.Until, err = parseTime(c, "until")
	catcher.Add(err)
	q.Limit, err = parseInt(c, "limit")
	catcher.Add(err)
	q.AggregateTo, err = parseInt(c, "aggregate_to")
	catcher.Add(err)
	q.AggregateAlways, err = parseBool(c, "aggregate_always")
	catcher.Add(err)
	q.AggregateWith = c.Query("aggregate_with")

	if catcher.HasErrors() {
		return summary.Query{}, errors.Wrap(fdbk.ErrValidation, catcher.Resolve().Error())
	}
	return q, nil
}

func (s *Service) getTopics(c *gin.Context) {
	topics, err := s.db.GetTopics(c.Request.Context(), fdbk.TopicFilter{
		Type:     c.Query("type"),
		Template: c.Query("template"),
	})
	if presentError(c, err) {
		return
	}
	c.JSON(http.StatusOK, topics)
}

func (s *Service) addTopic(c *gin.Context) {
	overwrite, err := parseBool(c, "overwrite")
	if presentError(c, err) {
		return
	}

	topic := fdbk.Topic{}
	if err = c.ShouldBindJSON(&topic); err != nil {
		presentError(c, errors.Wrapf(fdbk.ErrValidation, "no topic data provided in request: %s", err.Error()))
		return
	}

	id, err := s.db.AddTopic(c.Request.Context(), topic, fdbk.AddTopicOptions{Overwrite: overwrite})
	if presentError(c, err) {
		return
	}
	s.metrics.TopicsAdded.Inc()

	c.JSON(http.StatusOK, gin.H{
		"topic_id": id,
		"success":  "Topic successfully added to DB",
	})
}

func (s *Service) getTopic(c *gin.Context) {
	topic, err := s.db.GetTopic(c.Request.Context(), c.Param("id"))
	if presentError(c, err) {
		return
	}
	c.JSON(http.StatusOK, topic)
}

func (s *Service) getData(c *gin.Context) {
	q, err := parseQuery(c)
	if presentError(c, err) {
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	data, err := s.db.GetData(ctx, id, q.DataQuery())
	if presentError(c, err) {
		return
	}

	if c.Query("format") != "csv" {
		c.JSON(http.StatusOK, data)
		return
	}

	topic, err := s.db.GetTopic(ctx, id)
	if presentError(c, err) {
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", "attachment; filename=\""+id+".csv\"")
	c.Status(http.StatusOK)
	if err = fdbk.WriteCSV(topic, data, c.Writer); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "problem writing csv response",
			"topic":   id,
		}))
	}
}

func (s *Service) addData(c *gin.Context) {
	overwrite, err := parseBool(c, "overwrite")
	if presentError(c, err) {
		return
	}
	ts, err := parseTime(c, "timestamp")
	if presentError(c, err) {
		return
	}

	values := map[string]interface{}{}
	if err = c.ShouldBindJSON(&values); err != nil {
		presentError(c, errors.Wrapf(fdbk.ErrValidation, "no data provided in request: %s", err.Error()))
		return
	}

	ts, err = s.db.AddData(c.Request.Context(), c.Param("id"), values, fdbk.AddDataOptions{
		Timestamp: ts,
		Overwrite: overwrite,
	})
	if presentError(c, err) {
		return
	}
	s.metrics.DataPointsAdded.Inc()

	c.JSON(http.StatusOK, gin.H{
		"success":   "Data successfully added to DB",
		"timestamp": fdbk.FormatTimestamp(ts),
	})
}

func (s *Service) getLatest(c *gin.Context) {
	point, err := s.db.GetLatest(c.Request.Context(), c.Param("id"))
	if presentError(c, err) {
		return
	}
	c.JSON(http.StatusOK, point)
}

func (s *Service) getSummary(c *gin.Context) {
	q, err := parseQuery(c)
	if presentError(c, err) {
		return
	}

	start := time.Now()
	out, err := summary.Get(c.Request.Context(), s.db, c.Param("id"), q)
	if presentError(c, err) {
		return
	}
	s.metrics.ObservePipeline("summary", len(out.Warnings), time.Since(start))

	c.JSON(http.StatusOK, out)
}

func splitIDs(in string) []string {
	out := []string{}
	for _, id := range strings.Split(in, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) getComparison(c *gin.Context) {
	q, err := parseQuery(c)
	if presentError(c, err) {
		return
	}

	start := time.Now()
	out, err := summary.Overview(c.Request.Context(), s.db, summary.OverviewOptions{
		TopicIDs: splitIDs(c.Param("ids")),
		Query:    q,
		Workers:  s.opts.Workers,
	})
	if presentError(c, err) {
		return
	}
	s.metrics.ObservePipeline("comparison", len(out.Warnings), time.Since(start))

	c.JSON(http.StatusOK, out)
}

func (s *Service) getOverview(c *gin.Context) {
	q, err := parseQuery(c)
	if presentError(c, err) {
		return
	}

	topicType := c.Param("type")
	if topicType == "" {
		topicType = c.Query("type")
	}

	start := time.Now()
	out, err := summary.Overview(c.Request.Context(), s.db, summary.OverviewOptions{
		Type:     topicType,
		Template: c.Query("template"),
		Query:    q,
		Workers:  s.opts.Workers,
	})
	if presentError(c, err) {
		return
	}
	s.metrics.ObservePipeline("overview", len(out.Warnings), time.Since(start))

	c.JSON(http.StatusOK, out)
}
