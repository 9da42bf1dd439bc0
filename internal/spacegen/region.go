package spacegen

// RegionIDFromNID computes the ARIB terrestrial region identifier (1-62)
// for a terrestrial NID, per TR-B14 vol.5 part.7 9.1:
//
//	network_id = 0x7FF0 - 0x0010 * region_id + broadcaster_id - 0x0400 * prefectureFlag
//
// broadcaster_id is 0-15 and folded into the division by rounding up.
// prefectureFlag distinguishes the 0x7800-0x7BEF sub-band (flag=1) from
// 0x7C10-0x7FEF (flag=0); both normalize to the same region_id space by
// adding 0x0400 back to the flag=1 range before dividing.
//
// Returns false if nid falls outside the terrestrial block entirely, or the
// computed region_id lands outside 1-62.
func RegionIDFromNID(nid uint16) (uint8, bool) {
	if nid < 0x7800 || nid > 0x7FF0 {
		return 0, false
	}
	normalized := nid
	if nid < 0x7C00 {
		normalized += 0x0400
	}
	regionID := (0x7FF0 - int(normalized) + 0x000F) / 0x0010
	if regionID < 1 || regionID > 62 {
		return 0, false
	}
	return uint8(regionID), true
}

// prefectureByRegionID is the ARIB region_id -> representative prefecture
// name table. Wide-area ("広域放送") IDs 1-6 map to that area's dominant
// prefecture per the original implementation's convention.
var prefectureByRegionID = map[uint8]string{
	1: "東京", 2: "大阪", 3: "愛知", 4: "北海道", 5: "岡山", 6: "島根",
	10: "北海道", 11: "北海道", 12: "北海道", 13: "北海道", 14: "北海道", 15: "北海道", 16: "北海道",
	17: "宮城", 18: "秋田", 19: "山形", 20: "岩手", 21: "福島", 22: "青森",
	23: "東京", 24: "神奈川", 25: "群馬", 26: "茨城", 27: "千葉", 28: "栃木", 29: "埼玉",
	30: "長野", 31: "新潟", 32: "山梨",
	33: "愛知", 34: "石川", 35: "静岡", 36: "福井", 37: "富山", 38: "三重", 39: "岐阜",
	40: "大阪", 41: "京都", 42: "兵庫", 43: "和歌山", 44: "奈良", 45: "滋賀",
	46: "広島", 47: "岡山", 48: "島根", 49: "鳥取", 50: "山口",
	51: "愛媛", 52: "香川", 53: "徳島", 54: "高知",
	55: "福岡", 56: "熊本", 57: "長崎", 58: "鹿児島", 59: "宮崎", 60: "大分", 61: "佐賀",
	62: "沖縄",
}

// PrefectureName returns the Japanese prefecture name for a region_id, or
// "" if region_id is out of range.
func PrefectureName(regionID uint8) string {
	return prefectureByRegionID[regionID]
}

// TerrestrialRegion groups region IDs into the wider administrative blocks
// the original classification exposes alongside the raw prefecture name.
type TerrestrialRegion int

const (
	RegionHokkaido TerrestrialRegion = iota
	RegionTohoku
	RegionKanto
	RegionKoshinetsu
	RegionHokuriku
	RegionTokai
	RegionKinki
	RegionChugoku
	RegionShikoku
	RegionKyushu
	RegionOkinawa
	RegionUnknown
)

func (r TerrestrialRegion) String() string {
	switch r {
	case RegionHokkaido:
		return "Hokkaido"
	case RegionTohoku:
		return "Tohoku"
	case RegionKanto:
		return "Kanto"
	case RegionKoshinetsu:
		return "Koshinetsu"
	case RegionHokuriku:
		return "Hokuriku"
	case RegionTokai:
		return "Tokai"
	case RegionKinki:
		return "Kinki"
	case RegionChugoku:
		return "Chugoku"
	case RegionShikoku:
		return "Shikoku"
	case RegionKyushu:
		return "Kyushu"
	case RegionOkinawa:
		return "Okinawa"
	default:
		return "Unknown"
	}
}

// RegionFromID maps a region_id to its administrative grouping.
func RegionFromID(regionID uint8) TerrestrialRegion {
	switch {
	case regionID == 4 || (regionID >= 10 && regionID <= 16):
		return RegionHokkaido
	case regionID >= 17 && regionID <= 22:
		return RegionTohoku
	case regionID == 1 || (regionID >= 23 && regionID <= 29):
		return RegionKanto
	case regionID >= 30 && regionID <= 32:
		return RegionKoshinetsu
	case regionID == 34 || regionID == 36 || regionID == 37:
		return RegionHokuriku
	case regionID == 3 || regionID == 33 || regionID == 35 || regionID == 38 || regionID == 39:
		return RegionTokai
	case regionID == 2 || (regionID >= 40 && regionID <= 45):
		return RegionKinki
	case regionID == 5 || regionID == 6 || (regionID >= 46 && regionID <= 50):
		return RegionChugoku
	case regionID >= 51 && regionID <= 54:
		return RegionShikoku
	case regionID >= 55 && regionID <= 61:
		return RegionKyushu
	case regionID == 62:
		return RegionOkinawa
	default:
		return RegionUnknown
	}
}

// ClassifyNID returns the band and, for terrestrial NIDs, the resolved
// region_id and administrative region. The region fields are only
// meaningful when band == BandTerrestrial.
func ClassifyNID(nid uint16) (band BandType, regionID uint8, region TerrestrialRegion) {
	band = BandTypeFromNID(nid)
	if band != BandTerrestrial {
		return band, 0, RegionUnknown
	}
	id, ok := RegionIDFromNID(nid)
	if !ok {
		return band, 0, RegionUnknown
	}
	return band, id, RegionFromID(id)
}
