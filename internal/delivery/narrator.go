package delivery

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"matchcall/internal/dispatch"
	"matchcall/internal/domain"
)

// Narrator turns an event into the payload announced on a destination.
// Audio synthesis itself happens outside this process.
type Narrator interface {
	Payload(ctx context.Context, ev domain.MatchCompletedEvent, rec *domain.AnalysisRecord) (dispatch.Request, error)
}

// AnalysisConsumer is implemented by narrators that can tell whether they
// read the analysis record. The resolver skips the lookup when they don't.
type AnalysisConsumer interface {
	UsesAnalysis() bool
}

// URLNarrator builds a reference payload from a URL template. Supported
// placeholders: {match_id}, {identity}, {puuid}, {region}, plus {score} and
// {summary} from the analysis record (empty when there is none). Values are
// query-escaped.
type URLNarrator struct {
	Template string
}

var _ AnalysisConsumer = URLNarrator{}

func (n URLNarrator) UsesAnalysis() bool {
	return strings.Contains(n.Template, "{score}") || strings.Contains(n.Template, "{summary}")
}

func (n URLNarrator) Payload(ctx context.Context, ev domain.MatchCompletedEvent, rec *domain.AnalysisRecord) (dispatch.Request, error) {
	tpl := strings.TrimSpace(n.Template)
	if tpl == "" {
		return dispatch.Request{}, errors.New("announce url template is empty")
	}
	var score, summary string
	if rec != nil {
		score = strconv.FormatFloat(rec.Score, 'f', -1, 64)
		summary = rec.Summary
	}
	r := strings.NewReplacer(
		"{match_id}", url.QueryEscape(ev.MatchID),
		"{identity}", url.QueryEscape(ev.Identity),
		"{puuid}", url.QueryEscape(ev.PUUID),
		"{region}", url.QueryEscape(ev.Region),
		"{score}", url.QueryEscape(score),
		"{summary}", url.QueryEscape(summary),
	)
	u := r.Replace(tpl)
	if _, err := url.Parse(u); err != nil {
		return dispatch.Request{}, err
	}
	return dispatch.Request{URL: u, MatchID: ev.MatchID, Identity: ev.Identity}, nil
}
