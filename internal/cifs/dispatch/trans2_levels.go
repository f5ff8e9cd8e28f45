package dispatch

// Query/set information levels carried in a TRANS2_QUERY_PATH_INFORMATION,
// TRANS2_QUERY_FILE_INFORMATION, TRANS2_SET_PATH_INFORMATION or
// TRANS2_SET_FILE_INFORMATION request's InformationLevel parameter.
//
// Three numbering schemes overlap on the wire: the legacy SMB_INFO_*/
// SMB_QUERY_FILE_*/SMB_SET_FILE_* values below 0x200, the
// CIFS-Unix-Extensions SMB_*_UNIX_*/SMB_*_POSIX_* values from 0x200, and
// the NT "passthrough" levels, where InformationLevel-1000 is a raw
// FileInformationClass ([MS-FSCC] 2.4). A real client may use either
// the legacy or the passthrough form for the same information; the
// query/set handlers list both values in the same switch case.
const (
	infoStandard    uint16 = 1
	infoQueryEASize uint16 = 2
	infoQueryAllEAs uint16 = 4

	infoBasic        uint16 = 0x101
	infoStandardFile uint16 = 0x102
	infoEA           uint16 = 0x103
	infoAllInfo      uint16 = 0x107
	infoAltNameInfo  uint16 = 0x108

	infoSetBasic       uint16 = 0x101
	infoSetDisposition uint16 = 0x102
	infoSetAllocation  uint16 = 0x103
	infoSetEndOfFile   uint16 = 0x104

	infoUnixBasic   uint16 = 0x200
	infoUnixLink    uint16 = 0x201
	infoUnixHLink   uint16 = 0x203
	infoPosixACL    uint16 = 0x204
	infoPosixOpen   uint16 = 0x209
	infoPosixUnlink uint16 = 0x20A

	// NT passthrough levels: InformationLevel - passthroughBase is a raw
	// FileInformationClass.
	passthroughBase uint16 = 1000
	classBasic      uint16 = 4
	classStandard   uint16 = 5
	classInternal   uint16 = 6
	classEA         uint16 = 7
	classRename     uint16 = 10
	classDisposition uint16 = 13
	classAllInfo    uint16 = 18
	classAllocation uint16 = 19
	classEndOfFile  uint16 = 20
)

func passthrough(class uint16) uint16 {
	return passthroughBase + class
}
