// Package extract recovers the VIN, buyer email and order key from webhook
// payloads whose shape depends on the platform event type and version.
package extract

import (
	"strings"

	"github.com/google/uuid"
)

// VIN sources, reported for diagnostics.
const (
	SourceKeyHint = "key_hint"
	SourcePattern = "pattern"
	SourceScan    = "scan"
)

// Order key sources.
const (
	SourcePurchaseFlow = "purchase_flow_id"
	SourceOrderNumber  = "order_number"
	SourceOrderID      = "order_id"
	SourceGenerated    = "generated"
)

const fallbackKeyPrefix = "unknown_"

// Fields is the normalized extraction result. Empty VIN or Email means the
// value could not be recovered.
type Fields struct {
	VIN            string `json:"vin"`
	Email          string `json:"email"`
	OrderKey       string `json:"order_key"`
	VINSource      string `json:"vin_source,omitempty"`
	VINPath        string `json:"vin_path,omitempty"`
	OrderKeySource string `json:"order_key_source"`
}

// Complete reports whether both VIN and email were recovered.
func (f Fields) Complete() bool {
	return f.VIN != "" && f.Email != ""
}

// Generated reports whether the order key was synthesized.
func (f Fields) Generated() bool {
	return f.OrderKeySource == SourceGenerated
}

// Places the platform nests order data, most common first.
var orderRoots = []string{"", "order", "data", "data.order", "payload", "payload.order", "payload.data", "payload.data.order"}

var emailPaths = []string{
	"buyerInfo.email",
	"billingInfo.address.email",
	"billingInfo.contactDetails.email",
	"shippingInfo.address.email",
	"shippingInfo.shipmentDetails.address.email",
	"email",
	"contact.email",
	"customer.email",
}

var vinKeyHints = []string{"vin", "fin", "fahrgestell", "fahrgestellnummer", "vehicle identification", "vehicle id"}

// Keys naming fields that never carry a VIN; skipped by the exhaustive scan.
var nonVINKeyFragments = []string{"email", "mail", "phone", "tel", "zip", "postal", "postcode", "sku", "tracking", "token", "currency", "iban"}

var labelKeys = []string{"title", "name", "label", "key", "fieldName"}
var labelValueKeys = []string{"value", "answer", "text"}

// ExtractJSON parses data and extracts fields. A parse failure still yields
// a Fields value with a generated order key, alongside the error.
func ExtractJSON(data []byte) (Fields, error) {
	root, err := Parse(data)
	if err != nil {
		return Extract(nil), err
	}
	return Extract(root), nil
}

// Extract runs all heuristics over root. It never fails.
func Extract(root *Value) Fields {
	var f Fields
	f.VIN, f.VINSource, f.VINPath = findVIN(root)
	f.Email = findEmail(root)
	f.OrderKey, f.OrderKeySource = findOrderKey(root)
	return f
}

func findVIN(root *Value) (vin, source, path string) {
	if vin, path := vinByKeyHint(root); vin != "" {
		return vin, SourceKeyHint, path
	}
	if vin, path := vinByPattern(root); vin != "" {
		return vin, SourcePattern, path
	}
	if vin, path := vinByScan(root); vin != "" {
		return vin, SourceScan, path
	}
	return "", "", ""
}

// hintScore ranks how strongly a key names a VIN field: 3 for an exact hint,
// 2 for a long hint inside the key, 1 for a short one, 0 for none.
func hintScore(key string) int {
	k := compactKey(key)
	if k == "" {
		return 0
	}
	best := 0
	for _, h := range vinKeyHints {
		ch := compactKey(h)
		switch {
		case k == ch:
			return 3
		case strings.Contains(k, ch) && len(ch) >= 6:
			best = max(best, 2)
		case strings.Contains(k, ch):
			best = max(best, 1)
		}
	}
	return best
}

// vinCandidate accepts a whole VIN-shaped value or a VIN token inside it.
func vinCandidate(v *Value) string {
	if v == nil || v.Kind != KindString {
		return ""
	}
	if LooksLikeVIN(v.Str) {
		return NormalizeVIN(v.Str)
	}
	if tok, ok := FindVINToken(v.Str); ok {
		return tok
	}
	return ""
}

func vinByKeyHint(root *Value) (string, string) {
	var (
		bestVIN   string
		bestPath  string
		bestScore int
	)
	consider := func(score int, vin, path string) {
		if vin != "" && score > bestScore {
			bestVIN, bestPath, bestScore = vin, path, score
		}
	}

	Walk(root, func(v Visit) bool {
		switch v.Value.Kind {
		case KindString:
			if score := hintScore(v.Key); score > 0 {
				consider(score, vinCandidate(v.Value), v.Path)
			}
		case KindObject:
			// custom checkout fields: {"title": "FIN", "value": "WBA..."}
			for _, lk := range labelKeys {
				label, ok := v.Value.Get(lk).Text()
				if !ok {
					continue
				}
				score := hintScore(label)
				if score == 0 {
					continue
				}
				for _, vk := range labelValueKeys {
					consider(score, vinCandidate(v.Value.Get(vk)), joinPath(v.Path, vk))
				}
			}
		}
		return bestScore < 3
	})
	return bestVIN, bestPath
}

func vinByPattern(root *Value) (string, string) {
	var vin, path string
	Walk(root, func(v Visit) bool {
		if v.Value.Kind != KindString {
			return true
		}
		if tok, ok := FindVINToken(v.Value.Str); ok {
			vin, path = tok, v.Path
			return false
		}
		return true
	})
	return vin, path
}

func vinByScan(root *Value) (string, string) {
	var vin, path string
	Walk(root, func(v Visit) bool {
		if v.Value.Kind != KindString || isNonVINKey(v.Key) || !plainCode(v.Value.Str) {
			return true
		}
		if LooksLikeVIN(v.Value.Str) {
			vin, path = NormalizeVIN(v.Value.Str), v.Path
			return false
		}
		return true
	})
	return vin, path
}

func isNonVINKey(key string) bool {
	k := compactKey(key)
	if k == "id" || strings.HasSuffix(k, "id") || strings.HasSuffix(k, "ids") {
		return true
	}
	for _, frag := range nonVINKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// plainCode reports whether s holds only letters, digits, spaces and dashes.
func plainCode(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == ' ' || c == '-'
		if !ok {
			return false
		}
	}
	return true
}

func findEmail(root *Value) string {
	for _, p := range emailPaths {
		for _, r := range orderRoots {
			if email := emailValue(root.Lookup(joinPath(r, p))); email != "" {
				return email
			}
		}
	}

	var email string
	Walk(root, func(v Visit) bool {
		if !strings.Contains(compactKey(v.Key), "email") {
			return true
		}
		if e := emailValue(v.Value); e != "" {
			email = e
			return false
		}
		return true
	})
	return email
}

func emailValue(v *Value) string {
	if v == nil || v.Kind != KindString {
		return ""
	}
	s := strings.TrimSpace(v.Str)
	if !strings.Contains(s, "@") || strings.ContainsAny(s, " \t\r\n") {
		return ""
	}
	return s
}

func findOrderKey(root *Value) (string, string) {
	if key := firstText(root, orderRoots, "purchaseFlowId"); key != "" {
		return key, SourcePurchaseFlow
	}
	if key := firstText(root, orderRoots, "orderNumber"); key != "" {
		return key, SourceOrderNumber
	}
	if key := firstText(root, orderScopedRoots(), "number"); key != "" {
		return key, SourceOrderNumber
	}
	if key := firstText(root, orderRoots, "orderId"); key != "" {
		return key, SourceOrderID
	}
	if key := firstText(root, orderScopedRoots(), "id"); key != "" {
		return key, SourceOrderID
	}
	return FallbackOrderKey(), SourceGenerated
}

// orderScopedRoots are the roots that hold the order object itself, where
// generic keys such as "id" and "number" identify the order.
func orderScopedRoots() []string {
	var out []string
	for _, r := range orderRoots {
		if strings.HasSuffix(r, "order") {
			out = append(out, r)
		}
	}
	return out
}

func firstText(root *Value, roots []string, key string) string {
	for _, r := range roots {
		if s, ok := root.Lookup(joinPath(r, key)).Text(); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// FallbackOrderKey returns "unknown_" plus 12 random hex characters. Every
// call yields a new key, so deliveries keyed this way never deduplicate.
func FallbackOrderKey() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fallbackKeyPrefix + id[:12]
}
