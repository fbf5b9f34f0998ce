package store

import (
	"time"

	"github.com/neogan74/auditlens/internal/audit"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoFilter translates a Filter into a query document.
func mongoFilter(f audit.Filter) bson.D {
	q := bson.D{}
	if f.EventType != "" {
		q = append(q, bson.E{Key: "eventType", Value: f.EventType})
	}
	if f.Category != "" {
		q = append(q, bson.E{Key: "eventCategory", Value: f.Category})
	}
	if len(f.Severities) > 0 {
		sev := make(bson.A, len(f.Severities))
		for i, s := range f.Severities {
			sev[i] = string(s)
		}
		q = append(q, bson.E{Key: "severity", Value: bson.D{{Key: "$in", Value: sev}}})
	}
	if f.Status != "" {
		q = append(q, bson.E{Key: "status", Value: string(f.Status)})
	}
	if f.ActorID != "" {
		q = append(q, bson.E{Key: "actor.userId", Value: f.ActorID})
	}
	if f.IPAddress != "" {
		q = append(q, bson.E{Key: "session.ipAddress", Value: f.IPAddress})
	}
	if len(f.Tags) > 0 {
		q = append(q, bson.E{Key: "tags", Value: bson.D{{Key: "$in", Value: f.Tags}}})
	}
	if r := timeRange(f.From, f.To); r != nil {
		q = append(q, bson.E{Key: "timestamp", Value: r})
	}
	if f.IsAnomaly != nil {
		q = append(q, bson.E{Key: "flags.isAnomaly", Value: *f.IsAnomaly})
	}
	if f.RequiresReview != nil {
		q = append(q, bson.E{Key: "flags.requiresReview", Value: *f.RequiresReview})
	}
	if f.IsArchived != nil {
		q = append(q, bson.E{Key: "flags.isArchived", Value: *f.IsArchived})
	}
	if f.Suspicious {
		q = append(q, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "flags.isSuspicious", Value: true}},
			bson.D{{Key: "eventType", Value: audit.EventSuspiciousActivity}},
		}})
	}
	if f.Text != "" {
		q = append(q, bson.E{Key: "$text", Value: bson.D{{Key: "$search", Value: f.Text}}})
	}
	return q
}

func timeRange(from, to time.Time) bson.D {
	var r bson.D
	if !from.IsZero() {
		r = append(r, bson.E{Key: "$gte", Value: from})
	}
	if !to.IsZero() {
		r = append(r, bson.E{Key: "$lte", Value: to})
	}
	return r
}

func mongoSort(key string) bson.D {
	switch key {
	case audit.SortOldest:
		return bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}
	case audit.SortSeverity:
		return bson.D{{Key: "_severityRank", Value: -1}, {Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}
	default:
		return bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}
	}
}

// severityRankExpr maps the severity string to its numeric rank.
func severityRankExpr() bson.D {
	branches := bson.A{}
	for _, s := range []audit.Severity{audit.SeverityCritical, audit.SeverityHigh, audit.SeverityMedium, audit.SeverityLow, audit.SeverityInfo} {
		branches = append(branches, bson.D{
			{Key: "case", Value: bson.D{{Key: "$eq", Value: bson.A{"$severity", string(s)}}}},
			{Key: "then", Value: s.Rank()},
		})
	}
	return bson.D{{Key: "$switch", Value: bson.D{
		{Key: "branches", Value: branches},
		{Key: "default", Value: 0},
	}}}
}

// severityPagePipeline pages records ordered by severity rank.
func severityPagePipeline(f audit.Filter, p audit.Page) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: mongoFilter(f)}},
		{{Key: "$addFields", Value: bson.D{{Key: "_severityRank", Value: severityRankExpr()}}}},
		{{Key: "$sort", Value: mongoSort(audit.SortSeverity)}},
		{{Key: "$skip", Value: int64(p.Offset)}},
		{{Key: "$limit", Value: int64(p.Limit)}},
		{{Key: "$project", Value: bson.D{{Key: "_severityRank", Value: 0}}}},
	}
}

func countIf(cond any) bson.D {
	return bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{cond, 1, 0}}}}}
}

func groupByCount(field string) bson.A {
	return bson.A{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
}

// statisticsPipeline computes the overview and both breakdowns in one round trip.
func statisticsPipeline(from, to time.Time) mongo.Pipeline {
	match := bson.D{}
	if r := timeRange(from, to); r != nil {
		match = append(match, bson.E{Key: "timestamp", Value: r})
	}
	elevated := bson.A{string(audit.SeverityCritical), string(audit.SeverityHigh)}

	overview := bson.A{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "criticalHigh", Value: countIf(bson.D{{Key: "$in", Value: bson.A{"$severity", elevated}}})},
			{Key: "failures", Value: countIf(bson.D{{Key: "$eq", Value: bson.A{"$status", string(audit.StatusFailure)}}})},
			{Key: "successes", Value: countIf(bson.D{{Key: "$eq", Value: bson.A{"$status", string(audit.StatusSuccess)}}})},
			{Key: "anomalies", Value: countIf(bson.D{{Key: "$eq", Value: bson.A{"$flags.isAnomaly", true}}})},
			{Key: "actors", Value: bson.D{{Key: "$addToSet", Value: "$actor.userId"}}},
			{Key: "origins", Value: bson.D{{Key: "$addToSet", Value: "$session.ipAddress"}}},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "total", Value: 1},
			{Key: "criticalHigh", Value: 1},
			{Key: "failures", Value: 1},
			{Key: "successes", Value: 1},
			{Key: "anomalies", Value: 1},
			{Key: "uniqueActors", Value: bson.D{{Key: "$size", Value: "$actors"}}},
			{Key: "uniqueOrigins", Value: bson.D{{Key: "$size", Value: "$origins"}}},
		}}},
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$facet", Value: bson.D{
			{Key: "overview", Value: overview},
			{Key: "byEventType", Value: groupByCount("eventType")},
			{Key: "bySeverity", Value: groupByCount("severity")},
		}}},
	}
}

type statsOverviewDoc struct {
	Total         int64 `bson:"total"`
	CriticalHigh  int64 `bson:"criticalHigh"`
	Failures      int64 `bson:"failures"`
	Successes     int64 `bson:"successes"`
	Anomalies     int64 `bson:"anomalies"`
	UniqueActors  int64 `bson:"uniqueActors"`
	UniqueOrigins int64 `bson:"uniqueOrigins"`
}

type statsFacetDoc struct {
	Overview    []statsOverviewDoc `bson:"overview"`
	ByEventType []audit.Bucket     `bson:"byEventType"`
	BySeverity  []audit.Bucket     `bson:"bySeverity"`
}

func (d statsFacetDoc) toStatistics(from, to time.Time) *audit.Statistics {
	st := &audit.Statistics{
		From:        from,
		To:          to,
		ByEventType: d.ByEventType,
		BySeverity:  d.BySeverity,
	}
	if st.ByEventType == nil {
		st.ByEventType = []audit.Bucket{}
	}
	if st.BySeverity == nil {
		st.BySeverity = []audit.Bucket{}
	}
	if len(d.Overview) > 0 {
		o := d.Overview[0]
		st.Overview = audit.Overview{
			TotalEvents:     o.Total,
			CriticalHigh:    o.CriticalHigh,
			Failures:        o.Failures,
			DistinctActors:  o.UniqueActors,
			DistinctOrigins: o.UniqueOrigins,
			Anomalies:       o.Anomalies,
			SuccessRate:     audit.SuccessRate(o.Successes, o.Total),
		}
	}
	return st
}

// indexModels lists every index the audit collection relies on.
func indexModels() []mongo.IndexModel {
	byTime := func(name string, keys ...string) mongo.IndexModel {
		d := bson.D{}
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: 1})
		}
		d = append(d, bson.E{Key: "timestamp", Value: -1})
		return mongo.IndexModel{Keys: d, Options: options.Index().SetName(name)}
	}

	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}, Options: options.Index().SetName("timestamp_desc")},
		byTime("actor_timestamp", "actor.userId"),
		byTime("event_type_timestamp", "eventType"),
		byTime("severity_timestamp", "severity"),
		byTime("origin_timestamp", "session.ipAddress"),
		byTime("anomaly_timestamp", "flags.isAnomaly"),
		{Keys: bson.D{{Key: "context.correlationId", Value: 1}}, Options: options.Index().SetName("correlation_id").SetSparse(true)},
		{
			Keys: bson.D{
				{Key: "message", Value: "text"},
				{Key: "description", Value: "text"},
				{Key: "actor.username", Value: "text"},
				{Key: "actor.email", Value: "text"},
				{Key: "resourceName", Value: "text"},
			},
			Options: options.Index().SetName("full_text"),
		},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetName("expires_ttl").SetExpireAfterSeconds(0)},
	}
}
