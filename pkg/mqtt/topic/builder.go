package topic

import (
	"fmt"
	"strings"
)

// Builder constructs the topics of one vehicle's link.
type Builder struct {
	// root is the base namespace for all topics (e.g., "skypeer/v1").
	root      string
	vehicleID string
}

func NewBuilder(root, vehicleID string) *Builder {
	return &Builder{root: strings.TrimSuffix(root, "/"), vehicleID: vehicleID}
}

// Request is the topic a component listens on for commands.
func (b *Builder) Request(component string) string {
	return b.build(SegmentRequest, component)
}

// Reply is the topic a component answers on.
func (b *Builder) Reply(component string) string {
	return b.build(SegmentReply, component)
}

// ReplyWildcard subscribes to the answers of every component.
func (b *Builder) ReplyWildcard() string {
	return b.build(SegmentReply, Wildcard)
}

// RequestWildcard subscribes to the requests addressed to every component.
func (b *Builder) RequestWildcard() string {
	return b.build(SegmentRequest, Wildcard)
}

func (b *Builder) UploadWildcard() string {
	return b.build(SegmentUpload, Wildcard)
}

// Upload is the topic payload chunks for a component are published on.
func (b *Builder) Upload(component string) string {
	return b.build(SegmentUpload, component)
}

func (b *Builder) Status() string {
	return fmt.Sprintf("%s/%s/%s", b.root, b.vehicleID, SegmentStatus)
}

// Component extracts the component segment from a topic built by b, or
// returns false when the topic belongs to another vehicle or segment.
func (b *Builder) Component(topic, segment string) (string, bool) {
	prefix := fmt.Sprintf("%s/%s/%s/", b.root, b.vehicleID, segment)
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// build constructs {root}/{vehicleID}/{segment}/{component}.
func (b *Builder) build(segment, component string) string {
	return fmt.Sprintf("%s/%s/%s/%s", b.root, b.vehicleID, segment, component)
}
