package lywsd03mmc_test

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	ble_mod "github.com/go-ble/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/robertof/go-lywsd03mmc-bridge/device/lywsd03mmc"
)

func newTestDevice(t *testing.T) *lywsd03mmc.Device {
	t.Helper()

	d, err := lywsd03mmc.NewDevice("kitchen", testAddr, device.ModeActive, time.Second)
	if err != nil {
		t.Fatalf("NewDevice() got error: %v", err)
	}

	return d
}

func TestIngest_ReplacesReadingOnSuccess(t *testing.T) {
	d := newTestDevice(t)

	if _, _, ok := d.Latest(); ok {
		t.Fatalf("Latest(): new device must not have a reading")
	}

	frame := device.RawFrame{
		Source:  testAddr,
		Payload: mustDecodeHex("1a18751ed638c1a41a09ae11da0a404604"),
		Kind:    device.FrameKindServiceData,
	}

	if err := d.Ingest(frame); err != nil {
		t.Fatalf("Ingest(%v) got error: %v", frame, err)
	}

	first, firstAt, ok := d.Latest()
	if !ok || first.Temperature != 23.3 || firstAt.IsZero() {
		t.Fatalf("Latest(): got %+#v at %v (ok=%v)", first, firstAt, ok)
	}

	frame.Payload = buildCustomFrame(testAddr, 1999, 6000, 2900, 70)

	if err := d.Ingest(frame); err != nil {
		t.Fatalf("Ingest(%v) got error: %v", frame, err)
	}

	second, secondAt, _ := d.Latest()
	if second.Temperature != 20 || second.Humidity != 60 || secondAt.Before(firstAt) {
		t.Fatalf("Latest(): got %+#v at %v, wanted newer reading", second, secondAt)
	}
}

func TestIngest_KeepsReadingOnFailure(t *testing.T) {
	d := newTestDevice(t)

	good := device.RawFrame{
		Payload: mustDecodeHex("1a18751ed638c1a41a09ae11da0a404604"),
		Kind:    device.FrameKindServiceData,
	}

	if err := d.Ingest(good); err != nil {
		t.Fatalf("Ingest(%v) got error: %v", good, err)
	}

	want, wantAt, _ := d.Latest()

	bad := []device.RawFrame{
		{Payload: mustDecodeHex("1a18751e"), Kind: device.FrameKindServiceData},
		{Payload: mustDecodeHex("feed"), Kind: device.FrameKindServiceData},
		{Payload: []byte{0x01}, Kind: device.FrameKindNotification},
		{Payload: mustDecodeHex("1a18a4c138d61e7500e9ff0b8f4c2a"), Kind: device.FrameKindServiceData},
		{
			Source:  mustParseMAC("a4:c1:38:00:00:01"),
			Payload: good.Payload,
			Kind:    device.FrameKindServiceData,
		},
	}

	for _, frame := range bad {
		if err := d.Ingest(frame); err == nil {
			t.Fatalf("Ingest(%v): expected error, got none", frame)
		}

		got, gotAt, ok := d.Latest()

		if !ok || !reflect.DeepEqual(got, want) || !gotAt.Equal(wantAt) {
			t.Fatalf("Ingest(%v) modified the reading: got %+#v at %v, wanted %+#v at %v",
				frame, got, gotAt, want, wantAt)
		}
	}
}

func TestNewDevice_Defaults(t *testing.T) {
	d, err := lywsd03mmc.NewDevice("", testAddr, device.ModePassive, 0)

	if err != nil {
		t.Fatalf("NewDevice() got error: %v", err)
	}

	if d.Name() != "lywsd03mmc-a4c138d61e75" {
		t.Fatalf("Name(): got %q", d.Name())
	}

	if d.CommandTimeout() != lywsd03mmc.DefaultCommandTimeout {
		t.Fatalf("CommandTimeout(): got %v", d.CommandTimeout())
	}

	if _, err := lywsd03mmc.NewDevice("x", testAddr[:4], device.ModePassive, 0); err == nil {
		t.Fatalf("NewDevice() with short address: expected error")
	}
}

func TestFactory_FromSpec(t *testing.T) {
	f := lywsd03mmc.Factory{Mode: device.ModePassive, CommandTimeout: 10 * time.Second}

	d, err := f.FromSpec(device.DeviceSpec{"name": "bedroom", "addr": "A4:C1:38:D6:1E:75"})

	if err != nil {
		t.Fatalf("FromSpec() got error: %v", err)
	}

	if d.Name() != "bedroom" || d.Addr().String() != "a4:c1:38:d6:1e:75" || d.Mode() != device.ModePassive {
		t.Fatalf("FromSpec(): got %v (mode %v)", d, d.Mode())
	}

	if _, err := f.FromSpec(device.DeviceSpec{"addr": "nope"}); err == nil {
		t.Fatalf("FromSpec() with invalid addr: expected error")
	}
}

func TestFrames(t *testing.T) {
	d := newTestDevice(t)
	data := mustDecodeHex("751ed638c1a41a09ae11da0a404604")

	advertisement := FakeAdvertisement{
		addr: ble_mod.NewAddr("A4:C1:38:D6:1E:75"),
		serviceData: []ble_mod.ServiceData{
			{UUID: ble_mod.UUID16(0xfe95), Data: []byte{0x01, 0x02}},
			{UUID: ble_mod.UUID16(0x181a), Data: data},
		},
	}

	frames := d.Frames(advertisement)

	if len(frames) != 1 {
		t.Fatalf("Frames(): got %d frames, wanted 1", len(frames))
	}

	want := mustDecodeHex("1a18751ed638c1a41a09ae11da0a404604")

	if !reflect.DeepEqual(frames[0].Payload, want) || frames[0].Kind != device.FrameKindServiceData {
		t.Fatalf("Frames(): got %v, wanted payload %x", frames[0], want)
	}

	if err := d.Ingest(frames[0]); err != nil {
		t.Fatalf("Ingest(%v) got error: %v", frames[0], err)
	}

	advertisement.addr = ble_mod.NewAddr("a4:c1:38:00:00:01")

	if frames := d.Frames(advertisement); len(frames) != 0 {
		t.Fatalf("Frames() for another address: got %v", frames)
	}
}

func TestRead_WritesConfigurationCommands(t *testing.T) {
	d := newTestDevice(t)
	conn := &fakeConnection{
		addr:         testAddr,
		notification: []byte{0x2a, 0x09, 0x2f, 0x86, 0x0b},
	}

	frame, err := d.Read(context.Background(), conn)

	if err != nil {
		t.Fatalf("Read() got error: %v", err)
	}

	wantWrites := []write{
		{handle: 0x0038, value: []byte{0x01, 0x00}, withResponse: true},
		{handle: 0x0046, value: []byte{0xf4, 0x01, 0x00}, withResponse: true},
	}

	if !reflect.DeepEqual(conn.writes, wantWrites) {
		t.Fatalf("Read(): got writes %+v, wanted %+v", conn.writes, wantWrites)
	}

	if frame.Kind != device.FrameKindNotification || !reflect.DeepEqual(frame.Payload, conn.notification) {
		t.Fatalf("Read(): got frame %v", frame)
	}

	if err := d.Ingest(frame); err != nil {
		t.Fatalf("Ingest(%v) got error: %v", frame, err)
	}
}

func TestRead_Timeout(t *testing.T) {
	d := newTestDevice(t)
	conn := &fakeConnection{addr: testAddr}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := d.Read(ctx, conn); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Read(): got error %v, wanted %v", err, context.DeadlineExceeded)
	}
}

type write struct {
	handle       uint16
	value        []byte
	withResponse bool
}

type fakeConnection struct {
	addr         net.HardwareAddr
	writes       []write
	notification []byte
}

var _ ble.Connection = (*fakeConnection)(nil)

func (c *fakeConnection) Addr() net.HardwareAddr {
	return c.addr
}

func (c *fakeConnection) Subscribe(valueHandle, cccdHandle uint16) error {
	c.writes = append(c.writes, write{handle: cccdHandle, value: []byte{0x01, 0x00}, withResponse: true})
	return nil
}

func (c *fakeConnection) WriteCharacteristic(handle uint16, value []byte, withResponse bool) error {
	c.writes = append(c.writes, write{handle: handle, value: value, withResponse: withResponse})
	return nil
}

func (c *fakeConnection) WaitForNotification(ctx context.Context) ([]byte, error) {
	if c.notification != nil {
		return c.notification, nil
	}

	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConnection) Close() error {
	return nil
}

type FakeAdvertisement struct {
	name        string
	serviceData []ble_mod.ServiceData
	addr        ble_mod.Addr
}

func (f FakeAdvertisement) LocalName() string {
	return f.name
}

func (f FakeAdvertisement) ManufacturerData() []byte {
	return nil
}

func (f FakeAdvertisement) ServiceData() []ble_mod.ServiceData {
	return f.serviceData
}

func (f FakeAdvertisement) Services() []ble_mod.UUID {
	return nil
}

func (f FakeAdvertisement) OverflowService() []ble_mod.UUID {
	return nil
}

func (f FakeAdvertisement) TxPowerLevel() int {
	return 0
}

func (f FakeAdvertisement) Connectable() bool {
	return false
}

func (f FakeAdvertisement) SolicitedService() []ble_mod.UUID {
	return nil
}

func (f FakeAdvertisement) RSSI() int {
	return 0
}

func (f FakeAdvertisement) Addr() ble_mod.Addr {
	return f.addr
}
