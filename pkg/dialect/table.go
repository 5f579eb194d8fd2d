package dialect

import (
	p "lx200/pkg/protocol"
)

// meadeErrors are the goto failures of the classic :MS# reply.
var meadeErrors = map[int]string{
	1: "Object below horizon",
	2: "Object below higher limit",
}

var zwoErrors = map[int]string{
	1: "Parameters out of range",
	2: "Format error",
	3: "Mount not initialized",
	4: "Mount is moving",
	5: "Target is below horizon",
	6: "Target is below the altitude limit",
	7: "Time and location are not set",
	8: "Warning: Meridian reached, tracking stopped",
	9: "Target is on the other side of the meridian",
}

var onStepErrors = map[int]string{
	1: "Below the horizon limit",
	2: "Above the overhead limit",
	3: "Controller in standby",
	4: "Mount is parked",
	5: "Goto already in progress",
	6: "Outside limits",
	7: "Hardware fault",
	8: "Already in motion",
	9: "Unspecified error",
}

var teenAstroErrors = map[int]string{
	1: "Below the horizon limit",
	2: "No object selected",
	3: "Same side",
	4: "Mount is parked",
	5: "Goto already in progress",
	6: "Outside limits",
	7: "Hardware fault",
	8: "Already in motion",
	9: "Unspecified error",
}

var tenMicronsErrors = map[int]string{
	1: "Object below horizon",
	2: "No object selected",
	3: "Manual control active",
	4: "Position unreachable",
	5: "Mount not aligned",
	6: "Outside slew limits",
	7: "Mount is parked",
}

var geminiErrors = map[int]string{
	1: "Object below horizon",
	2: "No object selected",
	3: "Manual control active",
	4: "Position unreachable",
	5: "Mount not aligned",
	6: "Outside limits",
}

type commands map[Op]Command

// lx200 is the command subset nearly every controller understands.
func lx200() commands {
	return commands{
		OpProduct:      {":GVP#", p.Terminated},
		OpFirmware:     {":GVN#", p.Terminated},
		OpGetRA:        {":GR#", p.Terminated},
		OpGetDec:       {":GD#", p.Terminated},
		OpSetRA:        {":Sr%s#", p.Ack},
		OpSetDec:       {":Sd%s#", p.Ack},
		OpSlew:         {":MS#", p.Status('0', 0)},
		OpSync:         {":CM#", p.Terminated},
		OpAbort:        {":Q#", p.NoReply},
		OpMove:         {":M%c#", p.NoReply},
		OpStop:         {":Q%c#", p.NoReply},
		OpGuide:        {":Mg%c%04d#", p.NoReply},
		OpSlewGuide:    {":RG#", p.NoReply},
		OpSlewCenter:   {":RC#", p.NoReply},
		OpSlewFind:     {":RM#", p.NoReply},
		OpSlewMax:      {":RS#", p.NoReply},
		OpGetDate:      {":GC#", p.Terminated},
		OpGetTime:      {":GL#", p.Terminated},
		OpGetUTCOffset: {":GG#", p.Terminated},
		OpGetLatitude:  {":Gt#", p.Terminated},
		OpGetLongitude: {":Gg#", p.Terminated},
		OpSetDate:      {":SC%02d/%02d/%02d#", p.Ack},
		OpSetTime:      {":SL%02d:%02d:%02d#", p.Ack},
		OpSetUTCOffset: {":SG%s#", p.Ack},
		OpSetLatitude:  {":St%s#", p.Ack},
		OpSetLongitude: {":Sg%s#", p.Ack},
	}
}

func (c commands) with(overrides commands) commands {
	out := make(commands, len(c)+len(overrides))
	for op, cmd := range c {
		out[op] = cmd
	}
	for op, cmd := range overrides {
		out[op] = cmd
	}
	return out
}

func (c commands) without(ops ...Op) commands {
	for _, op := range ops {
		delete(c, op)
	}
	return c
}

var standardRates = []Op{OpSlewGuide, OpSlewCenter, OpSlewFind, OpSlewMax}

var descriptors = map[Dialect]*Descriptor{
	Meade: {
		Dialect: Meade,
		Caps: Capabilities{
			Park: true, DSTCommand: true, PrecisionToggle: true, Tracking: true,
			TrackRates: true, GuidePulse: true, Focuser: true, Apparent: true,
		},
		Commands: lx200().with(commands{
			// the date reply is followed by two progress lines
			OpSetDate:        {":SC%02d/%02d/%02d#", p.Status('1', 2)},
			OpPark:           {":hP#", p.NoReply},
			OpTrackOn:        {":AP#", p.NoReply},
			OpTrackOff:       {":AL#", p.NoReply},
			OpRateSidereal:   {":TQ#", p.NoReply},
			OpRateSolar:      {":TS#", p.NoReply},
			OpRateLunar:      {":TL#", p.NoReply},
			OpTrackingStatus: {":GW#", p.Terminated},
			OpDST:            {":SH%d#", p.Ack},
			OpPrecision:      {":U#", p.NoReply},
			OpFocusIn:        {":F+#", p.NoReply},
			OpFocusOut:       {":F-#", p.NoReply},
			OpFocusStop:      {":FQ#", p.NoReply},
			OpFocusFast:      {":FF#", p.NoReply},
			OpFocusSlow:      {":FS#", p.NoReply},
		}),
		Errors:    meadeErrors,
		Probes:    []StatusProbe{{OpTrackingStatus, parseMeadeStatus}},
		MoveRates: standardRates,
	},

	EQMac: {
		Dialect:   EQMac,
		Caps:      Capabilities{GuidePulse: true},
		Commands:  lx200().without(OpFirmware, OpGetDate, OpGetTime, OpGetUTCOffset, OpSetDate, OpSetTime, OpSetUTCOffset),
		MoveRates: standardRates,
	},

	TenMicrons: {
		Dialect: TenMicrons,
		Caps: Capabilities{
			MotionStatus: true,
			Park: true, NativeUnpark: true, SideOfPier: true, Tracking: true,
			TrackRates: true, GuidePulse: true, Apparent: true,
		},
		Commands: lx200().with(commands{
			OpPark:           {":KA#", p.NoReply},
			OpUnpark:         {":PO#", p.NoReply},
			OpTrackOn:        {":AP#", p.NoReply},
			OpTrackOff:       {":RT9#", p.NoReply},
			OpRateLunar:      {":RT0#", p.NoReply},
			OpRateSolar:      {":RT1#", p.NoReply},
			OpRateSidereal:   {":RT2#", p.NoReply},
			OpTrackingStatus: {":Gstat#", p.Terminated},
			OpPierSide:       {":pS#", p.Terminated},
		}),
		Errors: tenMicronsErrors,
		Probes: []StatusProbe{
			{OpTrackingStatus, parseTenMicronsStatus},
			{OpPierSide, parsePierSide},
		},
		MoveRates: standardRates,
	},

	Gemini: {
		Dialect: Gemini,
		Caps: Capabilities{
			MotionStatus: true,
			Park: true, NativeUnpark: true, Home: true, SideOfPier: true,
			TrackRates: true, KingRate: true, GuidePulse: true, Apparent: true,
		},
		Commands: lx200().with(commands{
			OpPark:           {":hP#", p.NoReply},
			OpUnpark:         {":hW#", p.NoReply},
			OpHome:           {":hC#", p.NoReply},
			OpRateSidereal:   {":TQ#", p.NoReply},
			OpRateSolar:      {":TS#", p.NoReply},
			OpRateLunar:      {":TL#", p.NoReply},
			OpRateKing:       {":TK#", p.NoReply},
			OpTrackingStatus: {":Gv#", p.Ack},
			OpPierSide:       {":Gm#", p.Terminated},
		}),
		Errors: geminiErrors,
		Probes: []StatusProbe{
			{OpTrackingStatus, parseGeminiStatus},
			{OpPierSide, parsePierSide},
		},
		MoveRates: standardRates,
	},

	AvalonStarGO: {
		Dialect: AvalonStarGO,
		Caps: Capabilities{
			MotionStatus: true,
			Park: true, NativeUnpark: true, ParkSet: true, Home: true, Tracking: true,
			TrackRates: true, GuidePulse: true,
		},
		Commands: avalon(),
		Errors:   meadeErrors,
		// the firmware writes 't' and 'g' in place of the degree separator
		Sentinels: "tg",
		Probes: []StatusProbe{
			{OpTrackingStatus, parseAvalonMotion},
			{OpParkStatus, parseAvalonPark},
		},
		MoveRates: standardRates,
	},

	AvalonStarGO2: {
		Dialect: AvalonStarGO2,
		Caps: Capabilities{
			MotionStatus: true,
			Park: true, NativeUnpark: true, ParkSet: true, Home: true, Tracking: true,
			TrackRates: true, GuidePulse: true, SideOfPier: true,
		},
		Commands: avalon().with(commands{
			OpPierSide: {":Gm#", p.Terminated},
		}),
		Errors:    meadeErrors,
		Sentinels: "tg",
		Probes: []StatusProbe{
			{OpTrackingStatus, parseAvalonMotion},
			{OpParkStatus, parseAvalonPark},
			{OpPierSide, parsePierSide},
		},
		MoveRates: standardRates,
	},

	AstroPhysics: {
		Dialect: AstroPhysics,
		Caps: Capabilities{
			Park: true, NativeUnpark: true, SideOfPier: true, Tracking: true,
			TrackRates: true, GuidePulse: true, Apparent: true,
		},
		Commands: lx200().with(commands{
			OpProduct:      {":V#", p.Terminated},
			OpPark:         {":KA#", p.NoReply},
			OpUnpark:       {":PO#", p.NoReply},
			OpTrackOn:      {":RT2#", p.NoReply},
			OpTrackOff:     {":RT9#", p.NoReply},
			OpRateLunar:    {":RT0#", p.NoReply},
			OpRateSolar:    {":RT1#", p.NoReply},
			OpRateSidereal: {":RT2#", p.NoReply},
			OpPierSide:     {":pS#", p.Terminated},
			OpSlewGuide:    {":RC0#", p.NoReply},
			OpSlewCenter:   {":RC1#", p.NoReply},
			OpSlewFind:     {":RC2#", p.NoReply},
			OpSlewMax:      {":RC3#", p.NoReply},
		}).without(OpFirmware),
		APOffset:  true,
		Probes:    []StatusProbe{{OpPierSide, parsePierSide}},
		MoveRates: standardRates,
	},

	OnStep: {
		Dialect: OnStep,
		Caps: Capabilities{
			MotionStatus: true,
			Park: true, NativeUnpark: true, ParkSet: true, Home: true, HomeSet: true,
			PEC: true, Buzzer: true, SideOfPier: true, Tracking: true, TrackRates: true,
			KingRate: true, GuidePulse: true, Focuser: true, AuxOutlets: 8, Apparent: true,
		},
		Commands: onStepFamily().with(commands{
			OpPECOn:         {":$QZ+#", p.NoReply},
			OpPECOff:        {":$QZ-#", p.NoReply},
			OpSetBuzzer:     {":SX97,%d#", p.Ack},
			OpGetBuzzer:     {":GX97#", p.Terminated},
			OpFocusIn:       {":F+#", p.NoReply},
			OpFocusOut:      {":F-#", p.NoReply},
			OpFocusStop:     {":FQ#", p.NoReply},
			OpFocusFast:     {":FF#", p.NoReply},
			OpFocusSlow:     {":FS#", p.NoReply},
			OpFocusPosition: {":FG#", p.Terminated},
			OpFocusGoto:     {":FS%d#", p.Ack},
			OpAuxGet:        {":GXX%d#", p.Terminated},
			OpAuxSet:        {":SXX%d,V%d#", p.Ack},
		}),
		Errors: onStepErrors,
		Probes: []StatusProbe{
			{OpTrackingStatus, parseLetterStatus},
			{OpPierSide, parsePierSide},
		},
		MoveRates: standardRates,
	},

	AGotino: {
		Dialect:   AGotino,
		Caps:      Capabilities{GuidePulse: true},
		Commands:  lx200().without(OpGetDate, OpGetTime, OpGetUTCOffset, OpSetDate, OpSetTime, OpSetUTCOffset),
		MoveRates: standardRates,
	},

	ZwoAM: {
		Dialect: ZwoAM,
		Caps: Capabilities{
			MotionStatus: true,
			Park: true, Home: true, Buzzer: true, SideOfPier: true, Tracking: true,
			TrackRates: true, GuidePulse: true, GuideRate: true, MeridianFlip: true,
			AlignmentReset: true, ParkByMotion: true, Apparent: true,
		},
		Commands: lx200().with(commands{
			OpFirmware:       {":GV#", p.Terminated},
			OpPark:           {":hP#", p.NoReply},
			OpHome:           {":hC#", p.NoReply},
			OpTrackOn:        {":Te#", p.Ack},
			OpTrackOff:       {":Td#", p.Ack},
			OpTrackingStatus: {":GU#", p.Terminated},
			OpRateSidereal:   {":TQ#", p.NoReply},
			OpRateSolar:      {":TS#", p.NoReply},
			OpRateLunar:      {":TL#", p.NoReply},
			OpPierSide:       {":Gm#", p.Terminated},
			OpSlewGuide:      {":R1#", p.NoReply},
			OpSlewCenter:     {":R4#", p.NoReply},
			OpSlewFind:       {":R7#", p.NoReply},
			OpSlewMax:        {":R9#", p.NoReply},
			OpGetGuideRate:   {":Ggr#", p.Terminated},
			OpSetGuideRate:   {":Rg%.1f#", p.NoReply},
			OpGetBuzzer:      {":GBu#", p.Terminated},
			OpSetBuzzer:      {":SBu%d#", p.NoReply},
			OpGetMeridian:    {":GTa#", p.Terminated},
			OpSetMeridian:    {":STa%s#", p.Terminated},
			OpClearAlignment: {":NSC#", p.Ack},
			OpTrackingError:  {":GAT#", p.Terminated},
			OpGetTrackRate:   {":GT#", p.Terminated},
		}),
		Errors: zwoErrors,
		Probes: []StatusProbe{
			{OpTrackingStatus, parseZwoStatus},
			{OpPierSide, parsePierSide},
		},
		MoveRates: standardRates,
	},

	PegasusNyx: {
		Dialect: PegasusNyx,
		Caps: Capabilities{
			MotionStatus: true,
			Park: true, NativeUnpark: true, Home: true, SideOfPier: true, Tracking: true,
			TrackRates: true, TrackBeforeGoto: true, GuidePulse: true, Apparent: true,
		},
		Commands: onStepFamily().with(commands{
			OpPark:   {":hP#", p.NoReply},
			OpUnpark: {":hR#", p.NoReply},
		}).without(OpSetPark, OpSetHome, OpRateKing),
		Errors: onStepErrors,
		Probes: []StatusProbe{
			{OpTrackingStatus, parseLetterStatus},
			{OpPierSide, parsePierSide},
		},
		MoveRates: standardRates,
	},

	OpenAstroTech: {
		Dialect: OpenAstroTech,
		Caps: Capabilities{
			MotionStatus: true,
			Park: true, NativeUnpark: true, Home: true, Tracking: true, GuidePulse: true,
		},
		Commands: lx200().with(commands{
			OpPark:           {":hP#", p.NoReply},
			OpUnpark:         {":hU#", p.Ack},
			OpHome:           {":hF#", p.NoReply},
			OpTrackOn:        {":MT1#", p.Ack},
			OpTrackOff:       {":MT0#", p.Ack},
			OpTrackingStatus: {":GX#", p.Terminated},
			OpGuide:          {":MG%c%04d#", p.NoReply},
		}),
		Probes:    []StatusProbe{{OpTrackingStatus, parseOATStatus}},
		MoveRates: standardRates,
	},

	TeenAstro: {
		Dialect: TeenAstro,
		Caps: Capabilities{
			MotionStatus: true,
			Park: true, NativeUnpark: true, ParkSet: true, Home: true, HomeSet: true,
			SideOfPier: true, Tracking: true, TrackRates: true, GuidePulse: true, Apparent: true,
		},
		Commands: onStepFamily().with(commands{
			OpTrackingStatus: {":GXI#", p.Terminated},
			OpSetHome:        {":hB#", p.Ack},
		}).without(OpRateKing, OpPierSide),
		Errors:    teenAstroErrors,
		Probes:    []StatusProbe{{OpTrackingStatus, parseTeenAstroStatus}},
		MoveRates: standardRates,
	},

	Generic: {
		Dialect:   Generic,
		Caps:      Capabilities{Park: true, GuidePulse: true},
		Commands:  lx200().with(commands{OpPark: {":hP#", p.NoReply}}),
		Errors:    meadeErrors,
		MoveRates: standardRates,
	},
}

// onStepFamily is shared by OnStep and the firmwares derived from it.
func onStepFamily() commands {
	return lx200().with(commands{
		OpSlew:           {":MS#", p.Ack},
		OpPark:           {":hP#", p.Ack},
		OpUnpark:         {":hR#", p.Ack},
		OpSetPark:        {":hQ#", p.Ack},
		OpHome:           {":hC#", p.NoReply},
		OpSetHome:        {":hF#", p.NoReply},
		OpTrackOn:        {":Te#", p.Ack},
		OpTrackOff:       {":Td#", p.Ack},
		OpTrackingStatus: {":GU#", p.Terminated},
		OpRateSidereal:   {":TQ#", p.NoReply},
		OpRateSolar:      {":TS#", p.NoReply},
		OpRateLunar:      {":TL#", p.NoReply},
		OpRateKing:       {":TK#", p.NoReply},
		OpPierSide:       {":Gm#", p.Terminated},
	})
}

func avalon() commands {
	return lx200().with(commands{
		OpPark:           {":X362#", p.NoReply},
		OpUnpark:         {":X370#", p.NoReply},
		OpSetPark:        {":X352#", p.NoReply},
		OpHome:           {":X361#", p.NoReply},
		OpTrackOn:        {":X122#", p.NoReply},
		OpTrackOff:       {":X120#", p.NoReply},
		OpRateSidereal:   {":TQ#", p.NoReply},
		OpRateSolar:      {":TS#", p.NoReply},
		OpRateLunar:      {":TL#", p.NoReply},
		OpTrackingStatus: {":X34#", p.Terminated},
		OpParkStatus:     {":X38#", p.Terminated},
	})
}
