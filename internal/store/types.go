package store

// Node is a known mesh participant, keyed by its 32-bit node number.
type Node struct {
	NodeID       uint32
	ShortName    string
	LongName     string
	FirstSeen    int64
	LastSeen     int64
	LastWelcomed *int64
	Latitude     *float64
	Longitude    *float64
	ViaMQTT      bool
}

// PacketDirection distinguishes packets heard from the mesh from packets we
// originated.
type PacketDirection string

const (
	DirectionIn  PacketDirection = "in"
	DirectionOut PacketDirection = "out"
)

// Packet is one logged mesh transmission, RF-observed or self-originated.
type Packet struct {
	ID           int64
	Timestamp    int64
	FromNode     uint32
	ToNode       *uint32
	Channel      uint32
	Text         string
	Direction    PacketDirection
	ViaMQTT      bool
	RSSI         *int32
	SNR          *float32
	HopCount     *uint32
	HopStart     *uint32
	MeshPacketID *uint32
	PacketType   string
}

// TracerouteStatus reflects how much of a traceroute round-trip has been
// observed so far.
type TracerouteStatus string

const (
	StatusObserved TracerouteStatus = "observed"
	StatusPartial  TracerouteStatus = "partial"
	StatusComplete TracerouteStatus = "complete"
)

// TracerouteSession correlates the request and response halves of one
// traceroute exchange, identified by TraceKey.
type TracerouteSession struct {
	ID              int64
	TraceKey        string
	FirstSeen        int64
	LastSeen         int64
	SrcNode          uint32
	DstNode          *uint32
	ViaMQTT          bool
	RequestHops      *uint32
	RequestHopStart  *uint32
	ResponseHops     *uint32
	ResponseHopStart *uint32
	RequestPacketID  *int64
	ResponsePacketID *int64
	Status           TracerouteStatus
	SampleCount      uint32
}

// HopDirection distinguishes the outward (toward destination) and return
// legs of a traceroute's recorded route.
type HopDirection string

const (
	HopDirectionRequest  HopDirection = "request"
	HopDirectionResponse HopDirection = "response"
)

// SourceKind records which packet app and leg a hop row came from.
type SourceKind string

const (
	SourceKindRoute            SourceKind = "route"
	SourceKindRouteBack        SourceKind = "route_back"
	SourceKindRoutingRoute     SourceKind = "routing_route"
	SourceKindRoutingRouteBack SourceKind = "routing_route_back"
)

// TracerouteHop is one node observed along a traceroute's outward or return
// path, in order.
type TracerouteHop struct {
	ID           int64
	SessionID    int64
	Direction    HopDirection
	HopIndex     uint32
	NodeID       uint32
	ObservedAt   int64
	PacketIDRef  *int64
	SourceKind   string
}

// NodeWithLastHop pairs a node's identity with the hop count of its most
// recently logged inbound RF packet, if any was ever recorded.
type NodeWithLastHop struct {
	NodeID    uint32
	ShortName string
	LongName  string
	LastSeen  int64
	LastHop   *uint32
}

// MailMessage is a store-and-forward note addressed to a node, delivered
// the next time that node is heard from.
type MailMessage struct {
	ID        int64
	Timestamp int64
	FromNode  uint32
	ToNode    uint32
	Body      string
	Read      bool
}
