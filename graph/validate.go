package graph

import (
	"fmt"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/message"
)

// ValidationResult collects every problem found in a definition.
type ValidationResult struct {
	Status string            `json:"validation_status"` // "valid" or "errors"
	Errors []ValidationIssue `json:"errors"`
}

// ValidationIssue is a single validation problem.
type ValidationIssue struct {
	Type     string `json:"type"` // "empty_graph", "duplicate_node", "unknown_destination", ...
	NodeName string `json:"node_name,omitempty"`
	Message  string `json:"message"`
}

// Valid reports whether no errors were found.
func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// Err converts a failed result into an error wrapping the invalid-graph
// taxonomy, with every issue in the message.
func (r *ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	detail := ""
	for i, issue := range r.Errors {
		if i > 0 {
			detail += "; "
		}
		detail += issue.Message
	}
	return errors.WrapInvalid(errors.ErrInvalidGraph, "Definition", "Validate", detail)
}

// Validate checks the definition and reports all violations: a graph
// that fails validation refuses to start, and the caller sees every
// invalid connection, not just the first.
func (d *Definition) Validate() *ValidationResult {
	result := &ValidationResult{Status: "valid", Errors: []ValidationIssue{}}

	addIssue := func(issueType, node, msg string) {
		result.Status = "errors"
		result.Errors = append(result.Errors, ValidationIssue{
			Type:     issueType,
			NodeName: node,
			Message:  msg,
		})
	}

	if len(d.Nodes) == 0 {
		addIssue("empty_graph", "", "graph must declare at least one node")
		return result
	}

	declared := make(map[string]bool, len(d.Nodes))
	for _, node := range d.Nodes {
		if node.Name == "" {
			addIssue("unnamed_node", "", "node with empty name")
			continue
		}
		if declared[node.Name] {
			addIssue("duplicate_node", node.Name,
				fmt.Sprintf("node %q declared twice", node.Name))
			continue
		}
		declared[node.Name] = true

		if node.Addon == "" {
			addIssue("missing_addon", node.Name,
				fmt.Sprintf("node %q declares no addon", node.Name))
		}
	}

	for _, conn := range d.Connections {
		if !declared[conn.Extension] {
			addIssue("unknown_source", conn.Extension,
				fmt.Sprintf("connection source %q is not a declared node", conn.Extension))
		}
		if _, err := message.ParseType(conn.MsgType); err != nil {
			addIssue("invalid_msg_type", conn.Extension,
				fmt.Sprintf("connection %q/%q has invalid msg_type %q",
					conn.Extension, conn.Name, conn.MsgType))
		}
		if len(conn.Dest) == 0 {
			addIssue("no_destinations", conn.Extension,
				fmt.Sprintf("connection %q/%q declares no destinations",
					conn.Extension, conn.Name))
		}
		for _, dest := range conn.Dest {
			// Remote destinations resolve on the remote app; only local
			// ones must name a declared node.
			if dest.App != "" {
				continue
			}
			if !declared[dest.Extension] {
				addIssue("unknown_destination", dest.Extension,
					fmt.Sprintf("connection %q/%q destination %q is not a declared node",
						conn.Extension, conn.Name, dest.Extension))
			}
		}
	}

	return result
}
