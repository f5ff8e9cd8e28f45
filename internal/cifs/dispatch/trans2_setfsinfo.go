package dispatch

import (
	"encoding/binary"
	"log/slog"

	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
	"github.com/opencifsd/cifsd/internal/logger"
)

// handleSetFSInformation implements TRANS2_SET_FS_INFORMATION,
// parameter block Fid(2) InformationLevel(2). The only mandatory level
// is SMB_SET_CIFS_UNIX_INFO, through which a client negotiates the
// subset of CIFS-Unix-Extensions capabilities it intends to use; this
// deployment's capability set is fixed (cifsUnixCapabilities), so the
// request is accepted and logged rather than acted on.
func handleSetFSInformation(c *Conn, req *request) (*wire.Body, error) {
	data := req.body.Bytes
	if len(data) < 4 {
		return nil, cifserr.Protocol("SET_FS_INFORMATION parameter block too short", nil)
	}
	level := le16(data, 2)
	if level != fsInfoCifsUnix {
		return nil, cifserr.Protocol("unsupported set FS information level", nil).With("level", level)
	}
	if len(data) < 4+12 {
		return nil, cifserr.Protocol("SET_CIFS_UNIX_INFO data block too short", nil)
	}
	capabilities := binary.LittleEndian.Uint64(data[4+4:])
	logger.DebugCtx(c.ctx, "client requested CIFS-Unix-Extensions capabilities",
		slog.Uint64("requested", capabilities),
		slog.Uint64("served", cifsUnixCapabilities))
	return trans2Response(make([]byte, 2), nil), nil
}
