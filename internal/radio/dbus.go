package radio

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/godbus/dbus/v5"

	"github.com/hro-mesh/meshapp/internal/naming"
)

// otbr-agent's D-Bus surface: one object per wpan interface on the
// system bus, properties and methods under the BorderRouter interface.
const (
	dbusService   = "io.openthread.BorderRouter"
	dbusInterface = "io.openthread.BorderRouter"

	propExtendedAddress = dbusInterface + ".ExtendedAddress"
	propMeshLocalAddr   = dbusInterface + ".MeshLocalPrefix"
	propRloc16          = dbusInterface + ".Rloc16"

	methodAttach = dbusInterface + ".Attach"

	propsInterface     = "org.freedesktop.DBus.Properties"
	propsChangedSignal = propsInterface + ".PropertiesChanged"
)

// DBusRadio drives a local otbr-agent over the system bus. It is the
// production Radio implementation; nothing in it is mesh-protocol
// aware, it only ferries property reads, one Attach call, and
// PropertiesChanged signals.
type DBusRadio struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewDBusRadio connects to the system bus and binds the agent object at
// objectPath (e.g. "/io/openthread/BorderRouter/wpan0").
func NewDBusRadio(objectPath string) (*DBusRadio, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("radio: connect system bus: %w", err)
	}
	return &DBusRadio{
		conn: conn,
		obj:  conn.Object(dbusService, dbus.ObjectPath(objectPath)),
	}, nil
}

// Close releases the bus connection.
func (r *DBusRadio) Close() error {
	return r.conn.Close()
}

// EUI64 reads the radio's extended address property.
func (r *DBusRadio) EUI64(_ context.Context) (naming.EUI64, error) {
	variant, err := r.obj.GetProperty(propExtendedAddress)
	if err != nil {
		return naming.EUI64{}, fmt.Errorf("radio: read ExtendedAddress: %w", err)
	}

	raw, ok := variant.Value().(uint64)
	if !ok {
		return naming.EUI64{}, fmt.Errorf("radio: ExtendedAddress has type %T, want uint64", variant.Value())
	}

	var eui naming.EUI64
	binary.BigEndian.PutUint64(eui[:], raw)
	return eui, nil
}

// ConfigureDataset asks the agent to attach using its stored active
// operational dataset. An empty TLV blob means "use what you have".
func (r *DBusRadio) ConfigureDataset(ctx context.Context) error {
	call := r.obj.CallWithContext(ctx, methodAttach, 0, []byte{})
	if call.Err != nil {
		return fmt.Errorf("radio: attach: %w", call.Err)
	}
	return nil
}

// LocalAddr reads the node's mesh-local address. The agent publishes
// the mesh-local prefix; the full address is the prefix with the
// agent's RLOC IID, which otbr exposes through Rloc16 plus the fixed
// 0000:00ff:fe00 locator prefix OpenThread assigns RLOC addresses.
func (r *DBusRadio) LocalAddr(_ context.Context) (netip.Addr, error) {
	variant, err := r.obj.GetProperty(propMeshLocalAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("radio: read MeshLocalPrefix: %w", err)
	}
	prefix, ok := variant.Value().([]byte)
	if !ok || len(prefix) != 8 {
		return netip.Addr{}, fmt.Errorf("radio: MeshLocalPrefix has unexpected shape %T", variant.Value())
	}

	rlocVariant, err := r.obj.GetProperty(propRloc16)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("radio: read Rloc16: %w", err)
	}
	rloc16, ok := rlocVariant.Value().(uint16)
	if !ok {
		return netip.Addr{}, fmt.Errorf("radio: Rloc16 has type %T, want uint16", rlocVariant.Value())
	}

	var raw [16]byte
	copy(raw[0:8], prefix)
	raw[11] = 0xFF
	raw[12] = 0xFE
	binary.BigEndian.PutUint16(raw[14:16], rloc16)
	return netip.AddrFrom16(raw), nil
}

// WatchRLOC subscribes to PropertiesChanged on the agent object and
// converts Rloc16 changes into RLOCEvents carrying the recomputed
// mesh-local address.
func (r *DBusRadio) WatchRLOC(ctx context.Context) (<-chan RLOCEvent, error) {
	if err := r.conn.AddMatchSignal(
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(r.obj.Path()),
	); err != nil {
		return nil, fmt.Errorf("radio: add signal match: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	r.conn.Signal(signals)

	out := make(chan RLOCEvent, 4)
	go func() {
		defer close(out)
		defer r.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Name != propsChangedSignal || len(sig.Body) < 2 {
					continue
				}
				changed, ok := sig.Body[1].(map[string]dbus.Variant)
				if !ok {
					continue
				}
				if _, touched := changed["Rloc16"]; !touched {
					continue
				}
				addr, err := r.LocalAddr(ctx)
				if err != nil {
					continue
				}
				select {
				case out <- RLOCEvent{Kind: RLOCAdded, Addr: addr}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
