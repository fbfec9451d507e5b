package listing

import (
	"errors"
	"strings"

	"github.com/Knetic/govaluate"
)

// WantEdge is the derived relation the demand graph is built from: the
// offered listing would satisfy the wanted listing's owner. Edges are
// computed on demand and never stored.
type WantEdge struct {
	From *Listing // OFFERED
	To   *Listing // WANTED, different owner
}

// Satisfies reports whether offered can satisfy wanted: offered must be
// OFFERED, wanted must be WANTED by a different member, categories must
// overlap, and wanted's match expression (if any) must accept the offer.
// offererReputation is the current reputation of offered's owner.
func Satisfies(offered, wanted *Listing, offererReputation float64) (bool, error) {
	if offered == nil || wanted == nil {
		return false, nil
	}
	if offered.Direction != DirectionOffered || wanted.Direction != DirectionWanted {
		return false, nil
	}
	if offered.OwnerID == wanted.OwnerID {
		return false, nil
	}
	if !CategoryMatches(offered.Categories, wanted.Categories) {
		return false, nil
	}
	return evalMatchExpr(wanted.MatchExpr, offered, offererReputation)
}

// evalMatchExpr evaluates a wanted listing's optional predicate against
// the offered listing. Empty expressions accept everything; "true" and
// "false" short-circuit without parsing.
func evalMatchExpr(expr string, offered *Listing, offererReputation float64) (bool, error) {
	cond := strings.TrimSpace(expr)
	if cond == "" {
		return true, nil
	}
	switch strings.ToLower(cond) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	parsed, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return false, &ValidationError{Field: "matchExpr", Reason: err.Error()}
	}
	result, err := parsed.Evaluate(matchParams(offered, offererReputation))
	if err != nil {
		return false, &ValidationError{Field: "matchExpr", Reason: err.Error()}
	}
	b, ok := result.(bool)
	if !ok {
		return false, &ValidationError{Field: "matchExpr", Reason: "expression did not evaluate to boolean"}
	}
	return b, nil
}

func matchParams(offered *Listing, offererReputation float64) map[string]interface{} {
	params := map[string]interface{}{
		"reputation":  offererReputation,
		"description": offered.Description,
	}
	if len(offered.Categories) > 0 {
		params["category"] = offered.Categories[0]
	}
	cats := make([]interface{}, len(offered.Categories))
	for i, c := range offered.Categories {
		cats[i] = c
	}
	params["categories"] = cats
	return params
}

// ValidateMatchExpr checks a predicate parses before the listing is stored.
func ValidateMatchExpr(expr string) error {
	cond := strings.TrimSpace(expr)
	if cond == "" {
		return nil
	}
	if _, err := govaluate.NewEvaluableExpression(cond); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return &ValidationError{Field: "matchExpr", Reason: err.Error()}
	}
	return nil
}
