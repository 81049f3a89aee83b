//go:build windows

package sampler

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// WindowsReader reads per-adapter byte counters via IP Helper's
// GetIfTable2, the Win32 API NetSpeedTray's original source polls through
// psutil's net_io_counters on Windows.
type WindowsReader struct {
	iphlpapi       *windows.LazyDLL
	getIfTable2    *windows.LazyProc
	freeMibTable   *windows.LazyProc
}

// NewWindowsReader loads iphlpapi.dll and resolves the table functions.
func NewWindowsReader() *WindowsReader {
	dll := windows.NewLazySystemDLL("iphlpapi.dll")
	return &WindowsReader{
		iphlpapi:     dll,
		getIfTable2:  dll.NewProc("GetIfTable2"),
		freeMibTable: dll.NewProc("FreeMibTable"),
	}
}

// mibIfRow2 mirrors the fields of MIB_IF_ROW2 this sampler needs; the
// real struct is much larger (interface description strings, media type,
// etc.) but Go only needs to walk past them to reach the byte counters,
// so the layout must match the Win32 header exactly up to and including
// OutOctets.
//
// This is a deliberately partial re-declaration: ReadCounters steps from
// row to row by mibIfRow2Size, the full Win32 size, so the fields after
// OutOctets that are not declared here do not shift the rows it reads.
type mibIfRow2Header struct {
	InterfaceLuid       uint64
	InterfaceIndex      uint32
	InterfaceGuid       [16]byte
	Alias               [257]uint16
	Description         [257]uint16
	PhysicalAddressLength uint32
	PhysicalAddress     [32]byte
	PermanentPhysicalAddress [32]byte
	Mtu                 uint32
	Type                uint32
	TunnelType          uint32
	MediaType           uint32
	PhysicalMediumType  uint32
	AccessType          uint32
	DirectionType       uint32
	InterfaceAndOperStatusFlags byte
	OperStatus          uint32
	AdminStatus         uint32
	MediaConnectState   uint32
	NetworkGuid         [16]byte
	ConnectionType      uint32
	_                   uint32 // padding to 8-byte align TransmitLinkSpeed
	TransmitLinkSpeed   uint64
	ReceiveLinkSpeed    uint64
	InOctets            uint64
	InUcastPkts         uint64
	InNUcastPkts        uint64
	InDiscards          uint64
	InErrors            uint64
	InUnknownProtos     uint64
	InUcastOctets       uint64
	InMulticastOctets   uint64
	InBroadcastOctets   uint64
	OutOctets           uint64
}

// mibIfRow2Size is sizeof(MIB_IF_ROW2): mibIfRow2Header plus the eight
// trailing 64-bit Out* counters it does not declare.
const mibIfRow2Size = 1352

// mibIfTable2Header mirrors MIB_IF_TABLE2's leading NumEntries field; the
// rows follow immediately after, each mibIfRow2Size bytes long.
type mibIfTable2Header struct {
	NumEntries uint32
	_          uint32 // alignment padding before the row array
}

// ReadCounters queries GetIfTable2 and returns sent/received byte totals
// keyed by a human-readable interface name (the alias).
func (r *WindowsReader) ReadCounters() (map[string]IfaceCounters, error) {
	var table *mibIfTable2Header
	ret, _, _ := r.getIfTable2.Call(uintptr(unsafe.Pointer(&table)))
	if ret != 0 {
		return nil, fmt.Errorf("GetIfTable2 failed: error code %d", ret)
	}
	if table == nil {
		return nil, fmt.Errorf("GetIfTable2 returned a nil table")
	}
	defer r.freeMibTable.Call(uintptr(unsafe.Pointer(table)))

	out := make(map[string]IfaceCounters, table.NumEntries)
	base := uintptr(unsafe.Pointer(table)) + unsafe.Sizeof(mibIfTable2Header{})
	rowSize := uintptr(mibIfRow2Size)

	for i := uint32(0); i < table.NumEntries; i++ {
		row := (*mibIfRow2Header)(unsafe.Pointer(base + uintptr(i)*rowSize))
		// Skip the software loopback pseudo-interface at the driver
		// level; the Speed Controller applies its own exclusion set on
		// top of this for virtual adapters it still wants to see.
		if row.Type == 24 /* IF_TYPE_SOFTWARE_LOOPBACK */ {
			continue
		}
		name := windows.UTF16ToString(row.Alias[:])
		if name == "" {
			continue
		}
		out[name] = IfaceCounters{
			BytesSent: row.OutOctets,
			BytesRecv: row.InOctets,
		}
	}
	return out, nil
}
