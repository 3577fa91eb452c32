package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#". It must be the last level.
	MultiWildcard = "#"
)

// Topic segments of the ground station link. Changing them breaks every
// deployed vehicle.
const (
	// SegmentRequest carries commands to a component.
	// Structure: {root}/{vehicleID}/request/{component}
	SegmentRequest = "request"

	// SegmentReply carries a component's answer to a request.
	// Structure: {root}/{vehicleID}/reply/{component}
	SegmentReply = "reply"

	// SegmentUpload carries update payload chunks.
	// Structure: {root}/{vehicleID}/upload/{component}
	SegmentUpload = "upload"

	// SegmentStatus is the retained online flag of the ground station.
	// Structure: {root}/{vehicleID}/status
	SegmentStatus = "status"
)
