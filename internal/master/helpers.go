package master

import (
	"strconv"

	"github.com/lizardfs/lizardfs-sub006/protocol"
	"github.com/lizardfs/lizardfs-sub006/types"
)

func addrFromRequest(req registerChunkserverRequest) protocol.Addr {
	return protocol.Addr{IP: req.IP, Port: req.Port}
}

func versionFromUint32(v uint32) types.Version {
	return types.Version(v)
}

func csidFromParam(s string) (types.CSID, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return types.CSID(n), nil
}
