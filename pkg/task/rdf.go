package task

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/knakk/rdf"
)

const (
	nsRDF = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsOT  = "http://www.opentox.org/api/1.1#"
	nsDC  = "http://purl.org/dc/elements/1.1/"

	rdfType = nsRDF + "type"

	otTask        = nsOT + "Task"
	otErrorReport = nsOT + "ErrorReport"

	otHasStatus           = nsOT + "hasStatus"
	otPercentageCompleted = nsOT + "percentageCompleted"
	otResultURI           = nsOT + "resultURI"
	otErrorReportProp     = nsOT + "errorReport"
	otDuration            = nsOT + "duration"

	otActor      = nsOT + "actor"
	otErrorCode  = nsOT + "errorCode"
	otMessage    = nsOT + "message"
	otDetails    = nsOT + "details"
	otHTTPStatus = nsOT + "httpStatus"
	otErrorCause = nsOT + "errorCause"

	dcTitle   = nsDC + "title"
	dcCreator = nsDC + "creator"
)

// maxCauseDepth bounds ot:errorCause chains; a cyclic chain is cut there.
const maxCauseDepth = 16

// graph indexes decoded triples by subject then predicate.
type graph struct {
	nodes map[string]map[string][]rdf.Object
	iris  map[string]bool
	order []string
}

func parseGraph(body []byte) (*graph, error) {
	dec := rdf.NewTripleDecoder(bytes.NewReader(body), rdf.RDFXML)
	triples, err := dec.DecodeAll()
	if err != nil {
		return nil, fmt.Errorf("decode rdf/xml: %w", err)
	}

	g := &graph{
		nodes: make(map[string]map[string][]rdf.Object),
		iris:  make(map[string]bool),
	}
	for _, t := range triples {
		subj := t.Subj.String()
		if t.Subj.Type() == rdf.TermIRI {
			g.iris[subj] = true
		}
		props, ok := g.nodes[subj]
		if !ok {
			props = make(map[string][]rdf.Object)
			g.nodes[subj] = props
			g.order = append(g.order, subj)
		}
		pred := t.Pred.String()
		props[pred] = append(props[pred], t.Obj)
	}
	return g, nil
}

// ofType lists subjects typed with typeIRI in document order.
func (g *graph) ofType(typeIRI string) []string {
	var out []string
	for _, subj := range g.order {
		for _, obj := range g.nodes[subj][rdfType] {
			if obj.String() == typeIRI {
				out = append(out, subj)
				break
			}
		}
	}
	return out
}

func (g *graph) first(subj, pred string) (rdf.Object, bool) {
	objs := g.nodes[subj][pred]
	if len(objs) == 0 {
		return nil, false
	}
	return objs[0], true
}

func (g *graph) text(subj, pred string) string {
	obj, ok := g.first(subj, pred)
	if !ok {
		return ""
	}
	return strings.TrimSpace(obj.String())
}

func (g *graph) float(subj, pred string) (float64, bool, error) {
	raw := g.text(subj, pred)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %q is not a number", pred, raw)
	}
	return v, true, nil
}

// errorReport decodes the ot:ErrorReport node subj, following ot:errorCause.
func (g *graph) errorReport(subj string, depth int) *ErrorReport {
	if _, ok := g.nodes[subj]; !ok || depth > maxCauseDepth {
		return nil
	}
	report := &ErrorReport{
		Actor:   g.text(subj, otActor),
		Code:    g.text(subj, otErrorCode),
		Message: g.text(subj, otMessage),
		Details: g.text(subj, otDetails),
	}
	if g.iris[subj] {
		report.URI = subj
	}
	if code, ok, err := g.float(subj, otHTTPStatus); err == nil && ok {
		report.HTTPStatus = int(code)
	}
	if cause, ok := g.first(subj, otErrorCause); ok {
		report.Cause = g.errorReport(cause.String(), depth+1)
	}
	return report
}

// rootErrorReport returns the report that is not the cause of another report.
func (g *graph) rootErrorReport() *ErrorReport {
	reports := g.ofType(otErrorReport)
	if len(reports) == 0 {
		return nil
	}
	causes := make(map[string]bool)
	for _, subj := range reports {
		for _, obj := range g.nodes[subj][otErrorCause] {
			causes[obj.String()] = true
		}
	}
	for _, subj := range reports {
		if !causes[subj] {
			return g.errorReport(subj, 0)
		}
	}
	return g.errorReport(reports[0], 0)
}
