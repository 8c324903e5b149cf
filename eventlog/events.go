package eventlog


// a pet was received
type PetDrop struct {
	// nil when the pet could not be identified, e.g. it went to a full inventory while following
	PetItemId *int `json:"petItemId,omitempty"`
}

func (self PetDrop) EventType() string {
	return "PetDrop"
}


type SkillLevelUpAchievement struct {
	Skill string `json:"skill"`
	Level int `json:"level"`
}

func (self SkillLevelUpAchievement) EventType() string {
	return "SkillLevelUpAchievement"
}


type CombatLevelUpAchievement struct {
	Level int `json:"level"`
}

func (self CombatLevelUpAchievement) EventType() string {
	return "CombatLevelUpAchievement"
}


type TotalLevelAchievement struct {
	TotalLevel int `json:"totalLevel"`
}

func (self TotalLevelAchievement) EventType() string {
	return "TotalLevelAchievement"
}


type QuestCompletionAchievement struct {
	Name string `json:"name"`
}

func (self QuestCompletionAchievement) EventType() string {
	return "QuestCompletionAchievement"
}


type DiaryCompletionAchievement struct {
	Tier string `json:"tier"`
	Area string `json:"area"`
}

func (self DiaryCompletionAchievement) EventType() string {
	return "DiaryCompletionAchievement"
}
