package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/umsh/hostsvc"
	"github.com/ardnew/umsh/hostsvc/fifo"
	"github.com/ardnew/umsh/scsi"
	"github.com/ardnew/umsh/transport"
)

func newSession(t *testing.T) (*transport.BOTSession, *fifo.Backend, hostsvc.InterfaceID) {
	t.Helper()
	b := fifo.NewBackend()
	lun := &fifo.VirtualLUN{
		Removable:     true,
		MediumPresent: true,
		Vendor:        "ACME",
		Product:       "FlashDrive",
		BlockSize:     512,
		Data:          make([]byte, 512*64),
	}
	id := b.AddDrive(fifo.NewVirtualDrive(0x1234, 0xabcd, lun))
	require.NoError(t, b.Acquire(id, 0))

	out, err := b.OpenEndpoint(id, 0x01)
	require.NoError(t, err)
	in, err := b.OpenEndpoint(id, 0x81)
	require.NoError(t, err)

	engine := transport.NewEngine(b)
	return transport.NewBOTSession(engine, id, out, in), b, id
}

func TestBOTSessionInquiry(t *testing.T) {
	session, _, _ := newSession(t)

	buf := make([]byte, scsi.InquiryStandardLength)
	res, err := session.ExecuteCommand(context.Background(), 0, scsi.InquiryCDB(scsi.InquiryStandardLength), true,
		scsi.InquiryStandardLength, buf, transport.DefaultTimeouts(scsi.InquiryStandardLength))
	require.NoError(t, err)
	require.Equal(t, uint8(transport.CSWStatusGood), res.Status)

	var inq scsi.Inquiry
	require.True(t, scsi.ParseInquiry(buf, &inq))
	require.Equal(t, "ACME", scsi.TrimASCII(inq.Vendor[:]))
}

func TestBOTSessionWriteReadRoundTrip(t *testing.T) {
	session, _, _ := newSession(t)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i * 3)
	}

	res, err := session.ExecuteCommand(context.Background(), 0, scsi.Write10(0, 1, false), false,
		512, payload, transport.DefaultTimeouts(512))
	require.NoError(t, err)
	require.Equal(t, uint8(transport.CSWStatusGood), res.Status)

	readBuf := make([]byte, 512)
	res, err = session.ExecuteCommand(context.Background(), 0, scsi.Read10(0, 1, false), true,
		512, readBuf, transport.DefaultTimeouts(512))
	require.NoError(t, err)
	require.Equal(t, uint8(transport.CSWStatusGood), res.Status)
	require.Equal(t, payload, readBuf)
}

func TestBOTSessionReadOutOfRangeReportsFailedStatus(t *testing.T) {
	session, _, _ := newSession(t)

	buf := make([]byte, 512)
	res, err := session.ExecuteCommand(context.Background(), 0, scsi.Read10(1000000, 1, false), true,
		512, buf, transport.DefaultTimeouts(512))
	require.NoError(t, err)
	require.Equal(t, uint8(transport.CSWStatusFailed), res.Status)
}

func TestBOTSessionConsecutiveCommandsNeedNoReset(t *testing.T) {
	session, _, _ := newSession(t)

	buf := make([]byte, scsi.InquiryStandardLength)
	_, err := session.ExecuteCommand(context.Background(), 0, scsi.InquiryCDB(scsi.InquiryStandardLength), true,
		scsi.InquiryStandardLength, buf, transport.DefaultTimeouts(scsi.InquiryStandardLength))
	require.NoError(t, err)

	_, err = session.ExecuteCommand(context.Background(), 0, scsi.InquiryCDB(scsi.InquiryStandardLength), true,
		scsi.InquiryStandardLength, buf, transport.DefaultTimeouts(scsi.InquiryStandardLength))
	require.NoError(t, err)

	require.Equal(t, 0, session.ResetsUsed())
}
