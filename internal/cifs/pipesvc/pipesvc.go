package pipesvc

import (
	"fmt"
	"sync"
)

// Service answers DCE/RPC traffic sent down \PIPE\srvsvc over a
// TRANSACTION. It is stateless across calls: a bind always gets
// acknowledged and a request is always answered from the current
// share list, so one Service instance is safe to share across every
// connection the dispatcher serves.
type Service struct {
	mu     sync.RWMutex
	shares []ShareInfo
}

// New builds a Service advertising shares.
func New(shares []ShareInfo) *Service {
	return &Service{shares: shares}
}

// SetShares replaces the share list NetrShareEnum advertises, for use
// when configuration reloads change what shares exist.
func (s *Service) SetShares(shares []ShareInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares = shares
}

// Call answers one DCE/RPC PDU (a bind or a request) carried in a
// TRANSACTION's data bytes, returning the PDU to write back.
func (s *Service) Call(data []byte) ([]byte, error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	switch hdr.packetType {
	case pduBind:
		req, err := parseBindRequest(data)
		if err != nil {
			return nil, err
		}
		return s.handleBind(req), nil
	case pduRequest:
		req, err := parseRequest(data)
		if err != nil {
			return nil, err
		}
		return s.handleRequest(req), nil
	default:
		return nil, fmt.Errorf("pipesvc: unsupported PDU type %d", hdr.packetType)
	}
}

func (s *Service) handleBind(req *bindRequest) []byte {
	transfer := syntaxID{uuid: ndrTransferSyntaxUUID, version: 2}
	if req.hasContext {
		transfer = req.transfer
	}
	ack := &bindAck{
		maxXmitFrag:  req.maxXmitFrag,
		maxRecvFrag:  req.maxRecvFrag,
		assocGroupID: 0x12345678,
		secAddr:      `\PIPE\srvsvc`,
		transfer:     transfer,
	}
	return ack.encode(req.header.callID)
}

// nscOpRangeError is the DCE/RPC fault status for an opnum a server
// does not implement [C706 Appendix E].
const nscOpRangeError uint32 = 0x1C010003

func (s *Service) handleRequest(req *rpcRequest) []byte {
	switch req.opNum {
	case opNetrShareEnum, opNetrShareGetInfo:
		s.mu.RLock()
		shares := s.shares
		s.mu.RUnlock()
		stub := handleNetrShareEnum(shares)
		return encodeResponse(req.header.callID, req.contexID, stub)
	default:
		return encodeFault(req.header.callID, nscOpRangeError)
	}
}
