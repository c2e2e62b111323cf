package knowledge

// Default returns the built-in symbol dictionary. Deployments override it with
// a YAML pack; the compiled-in set keeps the engine useful without one.
func Default() (*Base, error) {
	return New(defaultSymbols())
}

func defaultSymbols() []SymbolEntry {
	return []SymbolEntry{
		{
			ID:           "dwelling",
			Archetype:    "self",
			Significance: 0.55,
			Keywords: map[string][]string{
				"en": {"house", "home", "apartment", "room", "door", "window", "roof", "basement"},
				"ru": {"дом", "квартир", "комнат", "двер", "окн", "крыш", "подвал"},
			},
			Exclusions: []ExclusionRule{
				{
					ID:       "dwelling-vehicle-part",
					Pattern:  `(car|vehicle|auto|glovebox|машин|автомобил|бардачк)[^.!?]{0,48}(window|door|окн|двер)`,
					Triggers: []string{"window", "door", "окно", "окна", "дверь", "двери"},
				},
				{
					ID:       "dwelling-vehicle-part-rev",
					Pattern:  `(window|door|окн|двер)[^.!?]{0,48}(car|vehicle|auto|машин|автомобил)`,
					Triggers: []string{"window", "door", "окно", "окна", "дверь", "двери"},
				},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "dwelling-childhood", Pattern: `(childhood|grew\s+up|parents|детств|родител|вырос)`, Delta: 0.1},
			},
		},
		{
			ID:           "vehicle",
			Archetype:    "journey",
			Significance: 0.6,
			Keywords: map[string][]string{
				"en": {"car", "vehicle", "bus", "train", "driving", "road", "ship", "airplane"},
				"ru": {"машин", "автомобил", "автобус", "поезд", "дорог", "корабл", "самолет"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "vehicle-in-motion", Pattern: `(driv|rent|crash|brake|wheel|glovebox|ехал|аренд|разби|тормоз|руль)`, Delta: 0.15},
			},
		},
		{
			ID:           "surveillance",
			Archetype:    "shadow",
			Significance: 0.65,
			Keywords: map[string][]string{
				"en": {"tracker", "trackers", "camera", "watched", "followed", "spying", "bug", "microphone"},
				"ru": {"трекер", "камер", "следил", "слежк", "наблюда", "жучок", "прослушк"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "surveillance-context", Pattern: `(track|monitor|watch|follow|spy|трекер|след|наблюд|контрол)`, Delta: 0.15},
			},
		},
		{
			ID:           "water",
			Archetype:    "unconscious",
			Significance: 0.7,
			Keywords: map[string][]string{
				"en": {"water", "ocean", "sea", "river", "lake", "flood", "drowning", "rain", "wave"},
				"ru": {"вод", "океан", "мор", "рек", "озер", "потоп", "тону", "дожд", "волн"},
			},
			Exclusions: []ExclusionRule{
				{
					ID:       "water-compound",
					Pattern:  `water(mark|proof|fall\s+brand)`,
					Triggers: []string{"water"},
				},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "water-depth", Pattern: `(deep|dark|cold|pulled\s+under|глубок|темн|холодн|затяг)`, Delta: 0.1},
			},
		},
		{
			ID:           "flight",
			Archetype:    "aspiration",
			Significance: 0.6,
			Keywords: map[string][]string{
				"en": {"flying", "flew", "soaring", "wings", "floating", "levitating"},
				"ru": {"лета", "парил", "крыль", "взлет", "невесомост"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "flight-effortless", Pattern: `(free|easy|effortless|joy|легко|свободн|радост)`, Delta: 0.1},
			},
		},
		{
			ID:           "falling",
			Archetype:    "loss-of-control",
			Significance: 0.6,
			Keywords: map[string][]string{
				"en": {"falling", "fell", "plummeting", "abyss", "cliff"},
				"ru": {"пада", "упал", "пропаст", "обрыв", "сорвал"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "falling-endless", Pattern: `(endless|forever|no\s+bottom|бесконечн|без\s+дна)`, Delta: 0.1},
			},
		},
		{
			ID:           "money",
			Archetype:    "value",
			Significance: 0.5,
			Keywords: map[string][]string{
				"en": {"money", "coins", "coin", "gold", "wallet", "treasure", "cash"},
				"ru": {"деньг", "монет", "золот", "кошелек", "клад", "наличн"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "money-loss", Pattern: `(lost|losing|stolen|threw|потерял|украл|выброс)`, Delta: 0.1},
			},
		},
		{
			ID:           "food",
			Archetype:    "nourishment",
			Significance: 0.45,
			Keywords: map[string][]string{
				"en": {"food", "eating", "feast", "bread", "hunger", "starving"},
				"ru": {"еда", "ел", "пир", "хлеб", "голод"},
			},
			Exclusions: []ExclusionRule{
				{
					ID:       "food-truck",
					Pattern:  `food\s+truck`,
					Triggers: []string{"food"},
				},
				{
					ID:       "food-absence",
					Pattern:  `(без|without)[^.!?]{0,10}(food|еды|еда)`,
					Triggers: []string{},
				},
			},
		},
		{
			ID:           "death-rebirth",
			Archetype:    "transformation",
			Significance: 0.75,
			Keywords: map[string][]string{
				"en": {"death", "dying", "died", "funeral", "grave", "reborn", "resurrection"},
				"ru": {"смерт", "умер", "умира", "похорон", "могил", "возрожд", "воскрес"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "death-renewal", Pattern: `(again|new\s+life|woke|transform|снова|нов\w+\s+жизн|проснул|преобраз)`, Delta: 0.1},
			},
		},
		{
			ID:           "boundaries",
			Archetype:    "persona",
			Significance: 0.6,
			Keywords: map[string][]string{
				"en": {"fence", "wall", "border", "gate", "barrier", "locked"},
				"ru": {"забор", "стен", "границ", "ворот", "барьер", "заперт"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "boundaries-violation", Pattern: `(violat|invad|cross|breach|нарушен|вторжен|пересеч|границ)`, Delta: 0.15},
			},
		},
		{
			ID:           "control",
			Archetype:    "power",
			Significance: 0.6,
			Keywords: map[string][]string{
				"en": {"controlled", "trapped", "forced", "commanded", "puppet", "cage"},
				"ru": {"управля", "ловушк", "заставл", "приказ", "марионетк", "клетк"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "control-dominance", Pattern: `(manipulat|dominat|power|restrict|манипул|доминир|власт|огранич)`, Delta: 0.15},
			},
		},
		{
			ID:           "escape-liberation",
			Archetype:    "freedom",
			Significance: 0.65,
			Keywords: map[string][]string{
				"en": {"escape", "escaped", "running", "fleeing", "free", "released"},
				"ru": {"побег", "сбежал", "убега", "вырвал", "свобод", "освобод"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "escape-discard", Pattern: `(throw|threw|discard|reject|break\s+free|выброс|отброс|освобод|свобод)`, Delta: 0.1},
			},
		},
		{
			ID:           "pursuit",
			Archetype:    "shadow",
			Significance: 0.7,
			Keywords: map[string][]string{
				"en": {"chased", "chasing", "pursued", "hunted", "running away"},
				"ru": {"погон", "преследо", "гнал", "охотил", "убегал"},
			},
			Reinforcements: []ReinforcementRule{
				{ID: "pursuit-faceless", Pattern: `(faceless|unknown|dark\s+figure|shadow|безлик|неизвестн|темн\w*\s+фигур|тень)`, Delta: 0.1},
			},
		},
	}
}
