package records

import (
	"strings"

	"github.com/ehr/caregap/internal/platform/fhir"
)

// DescriptionSeparator joins a root procedure with its sub-procedures.
const DescriptionSeparator = " with "

// ProcedureNode is a procedure placed in the part-of hierarchy. Children are
// direct sub-procedures only.
type ProcedureNode struct {
	Procedure   fhir.Procedure  `json:"procedure"`
	ParentID    string          `json:"parent_id,omitempty"`
	Children    []ProcedureNode `json:"children,omitempty"`
	Description string          `json:"description"`
}

// ResolveHierarchy arranges procedures into roots with their direct
// children. A procedure is a child when its first partOf reference points
// at another procedure in the same set; otherwise it is a root. Procedures
// without an id are dropped, and when several procedures share an id only
// the first in source order is kept. Parent links that would form a cycle are
// dropped at the earliest member of the cycle in source order.
//
// Only one level is attached: a child of a child is neither a root nor
// listed under the top-level root.
func ResolveHierarchy(procedures []fhir.Procedure) []ProcedureNode {
	index := make(map[string]int, len(procedures))
	for i, p := range procedures {
		if p.ID == "" {
			continue
		}
		if _, dup := index[p.ID]; !dup {
			index[p.ID] = i
		}
	}

	parent := make(map[string]string, len(procedures))
	for i, p := range procedures {
		if p.ID == "" || index[p.ID] != i || len(p.PartOf) == 0 {
			continue
		}
		target := ReferenceID(p.PartOf[0].Reference, fhir.ResourceProcedure)
		if target == "" || target == p.ID {
			continue
		}
		if _, ok := index[target]; ok {
			parent[p.ID] = target
		}
	}

	// Visit in source order so the earliest member of a cycle loses its link.
	for _, p := range procedures {
		if p.ID == "" {
			continue
		}
		if leadsBackTo(p.ID, parent) {
			delete(parent, p.ID)
		}
	}

	children := make(map[string][]ProcedureNode)
	var roots []fhir.Procedure
	seen := make(map[string]bool, len(procedures))
	for _, p := range procedures {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if pid, ok := parent[p.ID]; ok {
			children[pid] = append(children[pid], ProcedureNode{
				Procedure:   p,
				ParentID:    pid,
				Description: procedureLabel(p),
			})
			continue
		}
		roots = append(roots, p)
	}

	nodes := make([]ProcedureNode, 0, len(roots))
	for _, r := range roots {
		kids := children[r.ID]
		parts := make([]string, 0, len(kids)+1)
		parts = append(parts, procedureLabel(r))
		for _, k := range kids {
			parts = append(parts, k.Description)
		}
		nodes = append(nodes, ProcedureNode{
			Procedure:   r,
			Children:    kids,
			Description: strings.Join(parts, DescriptionSeparator),
		})
	}
	return nodes
}

// leadsBackTo reports whether following parent links from id returns to id.
func leadsBackTo(id string, parent map[string]string) bool {
	steps := 0
	for cur, ok := parent[id]; ok; cur, ok = parent[cur] {
		if cur == id {
			return true
		}
		steps++
		if steps > len(parent) {
			// Entered a cycle that does not include id.
			return false
		}
	}
	return false
}

func procedureLabel(p fhir.Procedure) string {
	return StripSemanticTag(DisplayText(&p.Code), "procedure")
}

// ReferenceID extracts the logical id from a reference to resourceType.
// It accepts "Type/id", absolute URLs and "/_history/n" suffixes. A bare id
// is accepted as is. References to other resource types yield "".
func ReferenceID(ref, resourceType string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ""
	}
	if i := strings.Index(ref, "/_history/"); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.TrimRight(ref, "/")
	parts := strings.Split(ref, "/")
	if len(parts) == 1 {
		return parts[0]
	}
	if parts[len(parts)-2] != resourceType {
		return ""
	}
	return parts[len(parts)-1]
}
