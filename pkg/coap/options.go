package coap

// Option-clearing policy (spec.md Section 4.9). These tables are
// spec-mandated: implementers must not second-guess them per deployment.

// classE lists the encrypted options that MUST NOT appear in the outer
// message once protected; they travel only inside the encrypted inner
// message.
var classE = map[OptionNumber]bool{
	OptionIfMatch:       true,
	OptionETag:          true,
	OptionIfNoneMatch:   true,
	OptionLocationPath:  true,
	OptionUriPath:       true,
	OptionContentFormat: true,
	OptionUriQuery:      true,
	OptionAccept:        true,
	OptionLocationQuery: true,
}

// classU lists unprotected options preserved verbatim in the outer message.
var classU = map[OptionNumber]bool{
	OptionUriHost:     true,
	OptionProxyUri:    true,
	OptionProxyScheme: true,
}

// classI lists integrity-only options duplicated in both inner and outer
// messages; the inner copy is what's integrity-protected.
var classI = map[OptionNumber]bool{
	OptionObserve: true,
	OptionMaxAge:  true,
	OptionBlock1:  true,
	OptionBlock2:  true,
	OptionSize1:   true,
	OptionSize2:   true,
}

// IsClassE reports whether number is a class-E (encrypted) option.
func IsClassE(number OptionNumber) bool { return classE[number] }

// IsClassU reports whether number is a class-U (unprotected) option.
func IsClassU(number OptionNumber) bool { return classU[number] }

// IsClassI reports whether number is a class-I (integrity-only, duplicated)
// option.
func IsClassI(number OptionNumber) bool { return classI[number] }

// ApplyOptionClearingPolicy rewrites outer from inner per spec.md Section
// 4.9: class-E options are dropped from outer entirely (they only exist in
// the encrypted inner message); class-U options already on outer are left
// alone (they were never part of the inner message); class-I options
// present on inner are copied onto outer unchanged.
func ApplyOptionClearingPolicy(outer, inner *Message) {
	for number := range classE {
		outer.ClearOption(number)
	}
	for _, opt := range inner.Options {
		if classI[opt.Number] {
			outer.SetOption(opt.Number, opt.Value)
		}
	}
}
