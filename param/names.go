package param

// Well-known float parameter names. The store accepts any name; these are the
// ones the affect pipeline writes.
const (
	NameJoy       = "Joy"
	NameAngry     = "Angry"
	NameSorrow    = "Sorrow"
	NameFun       = "Fun"
	NameMouthOpen = "MouthOpen"
)

// Well-known action flag names
const (
	NameIsTalking = "isTalking"
	NameUsePhone  = "usePhone"
	NameIsReading = "isReading"
	NameIsRoaming = "isRoaming"
)

// FloatNames lists the affect parameters in stable order
var FloatNames = []string{NameJoy, NameAngry, NameSorrow, NameFun, NameMouthOpen}

// BoolNames lists the action flags in stable order
var BoolNames = []string{NameIsTalking, NameUsePhone, NameIsReading, NameIsRoaming}
