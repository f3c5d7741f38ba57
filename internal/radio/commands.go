package radio

// SX126x command opcodes (SX1261/2/8 datasheet, chapter 13).
const (
	cmdSetSleep             = 0x84
	cmdSetStandby           = 0x80
	cmdSetFS                = 0x8C
	cmdSetTx                = 0x83
	cmdSetRx                = 0x82
	cmdWriteRegister        = 0x0D
	cmdReadRegister         = 0x1D
	cmdWriteBuffer          = 0x0E
	cmdReadBuffer           = 0x1E
	cmdSetDioIrqParams      = 0x08
	cmdGetIrqStatus         = 0x12
	cmdClearIrqStatus       = 0x02
	cmdSetRfFrequency       = 0x86
	cmdSetPacketType        = 0x8A
	cmdGetPacketType        = 0x11
	cmdSetTxParams          = 0x8E
	cmdSetModulationParams  = 0x8B
	cmdSetPacketParams      = 0x8C
	cmdSetBufferBaseAddress = 0x8F
	cmdGetStatus            = 0xC0
	cmdGetRxBufferStatus    = 0x13
	cmdGetPacketStatus      = 0x14
	cmdGetDeviceErrors      = 0x17
	cmdClearDeviceErrors    = 0x07
)

// Register addresses.
const (
	regLoRaSyncWordMSB uint16 = 0x0740
	regLoRaSyncWordLSB uint16 = 0x0741
)

// IRQ status/mask bits.
const (
	irqTxDone           uint16 = 0x0001
	irqRxDone           uint16 = 0x0002
	irqPreambleDetected uint16 = 0x0004
	irqSyncWordValid    uint16 = 0x0008
	irqHeaderValid      uint16 = 0x0010
	irqHeaderError      uint16 = 0x0020
	irqCrcError         uint16 = 0x0040
	irqCadDone          uint16 = 0x0080
	irqCadDetected      uint16 = 0x0100
	irqTimeout          uint16 = 0x0200
	irqAll              uint16 = 0x03FF
)

const (
	packetTypeLoRa = 0x01

	// Standby with RC oscillator.
	standbyRC = 0x00

	// PA ramp time 40us.
	rampTime40us = 0x02

	txBaseAddress = 0x00
	rxBaseAddress = 0x80
)
