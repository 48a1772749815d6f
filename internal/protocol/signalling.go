package protocol

// Signalling message types, inbound to the relay.
const (
	TypeEndpointID            = "endpointId"
	TypePing                  = "ping"
	TypeDisconnectPlayer      = "disconnectPlayer"
	TypeLayerPreference       = "layerPreference"
	TypeOffer                 = "offer"
	TypeAnswer                = "answer"
	TypeICECandidate          = "iceCandidate"
	TypeListStreamers         = "listStreamers"
	TypeSubscribe             = "subscribe"
	TypeUnsubscribe           = "unsubscribe"
	TypeDataChannelRequest    = "dataChannelRequest"
	TypePeerDataChannelsReady = "peerDataChannelsReady"
)

// Signalling message types, outbound from the relay.
const (
	TypeConfig               = "config"
	TypeIdentify             = "identify"
	TypePong                 = "pong"
	TypeStreamerList         = "streamerList"
	TypePlayerConnected      = "playerConnected"
	TypePlayerDisconnected   = "playerDisconnected"
	TypeStreamerDataChannels = "streamerDataChannels"
	TypePeerDataChannels     = "peerDataChannels"
)

// Field names shared across signalling messages.
const (
	FieldID           = "id"
	FieldTime         = "time"
	FieldPlayerID     = "playerId"
	FieldReason       = "reason"
	FieldSDP          = "sdp"
	FieldCandidate    = "candidate"
	FieldStreamerID   = "streamerId"
	FieldIDs          = "ids"
	FieldSendOffer    = "sendOffer"
	FieldDataChannel  = "dataChannel"
	FieldSFU          = "sfu"
	FieldSendStreamID = "sendStreamId"
	FieldRecvStreamID = "recvStreamId"
)

// Signalling builds the schema registry for the WebSocket signalling
// surface. Inbound and outbound types are both registered so relayed
// messages stay valid end to end.
func Signalling() *Registry {
	r := NewRegistry()

	// Inbound.
	r.Register(TypeEndpointID, Schema{Required: []string{FieldID}})
	r.Register(TypePing, Schema{Required: []string{FieldTime}})
	r.Register(TypeDisconnectPlayer, Schema{
		Required: []string{FieldPlayerID},
		Optional: []string{FieldReason},
	})
	r.Register(TypeLayerPreference, Schema{
		Optional: []string{"spatialLayer", "temporalLayer", FieldPlayerID},
	})
	r.Register(TypeOffer, Schema{
		Required: []string{FieldSDP},
		Optional: []string{FieldPlayerID, FieldSFU},
	})
	r.Register(TypeAnswer, Schema{
		Required: []string{FieldSDP},
		Optional: []string{FieldPlayerID},
	})
	r.Register(TypeICECandidate, Schema{
		Required: []string{FieldCandidate},
		Optional: []string{FieldPlayerID},
	})
	r.Register(TypeListStreamers, Schema{})
	r.Register(TypeSubscribe, Schema{Required: []string{FieldStreamerID}})
	r.Register(TypeUnsubscribe, Schema{})
	r.Register(TypeDataChannelRequest, Schema{Optional: []string{FieldPlayerID}})
	r.Register(TypePeerDataChannelsReady, Schema{Required: []string{FieldPlayerID}})

	// Outbound.
	r.Register(TypeConfig, Schema{
		Required: []string{"protocolVersion", "peerConnectionOptions"},
	})
	r.Register(TypeIdentify, Schema{})
	r.Register(TypePong, Schema{Required: []string{FieldTime}})
	r.Register(TypeStreamerList, Schema{Required: []string{FieldIDs}})
	r.Register(TypePlayerConnected, Schema{
		Required: []string{FieldPlayerID, FieldDataChannel, FieldSFU, FieldSendOffer},
	})
	r.Register(TypePlayerDisconnected, Schema{Required: []string{FieldPlayerID}})
	r.Register(TypeStreamerDataChannels, Schema{
		Required: []string{FieldPlayerID, FieldSendStreamID, FieldRecvStreamID},
	})
	r.Register(TypePeerDataChannels, Schema{
		Required: []string{FieldPlayerID, FieldSendStreamID, FieldRecvStreamID},
	})

	return r
}
