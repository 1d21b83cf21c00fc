package main

import (
	"github.com/RoanBrand/pollbroke"
	"github.com/RoanBrand/pollbroke/internal/model"
	log "github.com/sirupsen/logrus"
)

var pingResp = []byte{uint8(model.PINGRESP) << 4, 0}

// logHandler logs what is decoded and keeps clients alive by answering pings.
type logHandler struct{}

func (h *logHandler) HandlePacket(s *pollbroke.Session, p *model.Packet) {
	lf := log.Fields{
		"conn":    s.ID(),
		"session": s.UUID().String(),
		"type":    p.Type().String(),
	}

	switch vh := p.VariableHeader.(type) {
	case *model.ConnectHeader:
		lf["protocol"] = vh.ProtocolName
		lf["level"] = vh.ProtocolLevel
		lf["keep_alive"] = vh.KeepAlive
		if cp, ok := p.Payload.(*model.ConnectPayload); ok {
			lf["client"] = cp.ClientID
		}
	case *model.PublishHeader:
		lf["topic"] = vh.TopicName
		lf["qos"] = p.QoS
	}
	log.WithFields(lf).Info("Packet")

	switch p.Type() {
	case model.PINGREQ:
		if err := s.Write(pingResp); err != nil {
			log.WithFields(lf).WithField("err", err).Debug("Ping response")
		}
	case model.DISCONNECT:
		s.Close()
	}
}

func (h *logHandler) HandleParseError(s *pollbroke.Session, err error) {
	log.WithFields(log.Fields{
		"conn":   s.ID(),
		"remote": s.RemoteAddr(),
		"err":    err,
	}).Warn("Bad packet stream")
}
