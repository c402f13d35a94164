package trainer

import "rngtrainer/sigscan"

// SiteSignature locates one call into the random API. Offset is the position
// of the call's rel32 field relative to the start of the match.
type SiteSignature struct {
	Category Category
	Hex      string
	Offset   int
	Caller   string
}

func (s SiteSignature) Pattern() sigscan.Signature {
	return sigscan.MustParse(s.Hex)
}

// Tables holds the call site signatures for each random API, indexed by Kind
type Tables [numKinds][]SiteSignature

// DefaultTables returns a copy of the built in call site tables
func DefaultTables() Tables {
	var t Tables
	t[KindValue] = append([]SiteSignature(nil), valueSites...)
	t[KindIntRange] = append([]SiteSignature(nil), intRangeSites...)
	t[KindFloatRange] = append([]SiteSignature(nil), floatRangeSites...)
	return t
}

// Count returns the number of signatures across all kinds
func (t Tables) Count() int {
	n := 0
	for _, sites := range t {
		n += len(sites)
	}
	return n
}

// Random.value
var valueSites = []SiteSignature{
	{DoNotTamper, "41 80 7E 29 00 48 8B D8", 17, "LightGenerator.Generate"},
	{DoNotTamper, "41 80 7E 29 00 48 8B D8", 30, "LightGenerator.Generate"},
	{DoNotTamper, "41 80 7E 29 00 48 8B D8", 43, "LightGenerator.Generate"},
	{DoNotTamper, "0F 84 6E 02 00 00 45 33 C0 33 D2", 22, "LightGenerator.Generate"},
	{DoNotTamper, "0F 84 6E 02 00 00 45 33 C0 33 D2", 32, "LightGenerator.Generate"},
	{DoNotTamper, "0F 84 6E 02 00 00 45 33 C0 33 D2", 42, "LightGenerator.Generate"},
	{BirdPathing, "F3 0F 11 43 64 0F 86 19 01 00 00", 23, "BirdPather.Update"},
	{BirdPathing, "F3 0F 10 4B 4C 0F 2F C8 0F 86 01 01 00 00", -4, "BirdPather.JumpForwardsTick"},
	{Rarity, "48 8B 7C E9 20 48 85 FF", 17, "RoomDraftContext.ResetPlans"},
	{Drafting, "48 8B 01 48 39 47 10 74 5C 33 C9", 12, "RoomDraftHelper.StartDraft"},
	{Rarity, "48 8B 7C F1 20 48 85 FF 74 78", 13, "RoomDraftRound.RunbackFilter"},
	{Rarity, "F3 41 0F 10 76 2C EB 06", 17, "OuterDraftManager.FilterRarityOutput"},
	{Trading, "EB 5A 85 FF 78 2C", -4, "TradeManager.SetTradeOffer"},
	{Trading, "48 85 F6 75 76 33 C9", 8, "TradeManager.SetTradeOffer"},
	{DoNotTamper, "0F 2F C6 76 27 33 C9", 8, "TestActionPrompter.Update"},
}

// Random.Range(int, int)
var intRangeSites = []SiteSignature{
	{DoNotTamper, "8B 57 1C 45 33 C0 8B", 12, "DynamicOcclusionAbstractBase.ProcessOcclusion"},
	{DoNotTamper, "45 33 C0 BA 68 01 00 00 33", -4, "LightGenerator.Generate"},
	{DoNotTamper, "45 33 C0 BA 68 01 00 00 33", 13, "LightGenerator.Generate"},
	{DoNotTamper, "F3 0F 11 43 5C 41", 13, "LightGenerator.Generate"},
	{DoNotTamper, "B9 0C FE FF FF", 9, "LightGenerator.Generate"},
	{DogSwapper, "74 0E 45 33 C0 8B D6", 10, "Kennel_DogSwapper.RegenerateCombinations"},
	{Drafting, "2B 4F 30 8B 50 18", 9, "RoomDeck.PickTop"},
	{DoNotTamper, "0F 84 F9 00 00 00 8B 56", 15, "SetRandomMaterial.DoSetRandomMaterial"},
	{DoNotTamper, "48 63 C8 3B 4B 18 73 50", -4, "SetRandomMaterial.DoSetRandomMaterial"},
	{DoNotTamper, "66 0F 6E C3 0F 5B C0 66 0F 6E F8", -4, "Vector2RandomValue.DoRandomVector2"},
	{Trading, "48 63 C8 3B 4B 18 73 31", -4, "TradeManager.PickFromTradingTier"},
	{Derigiblock, "74 48 45 33 C0 8B 53", 11, "DerigiblocksBlockDatabase.GetBlock"},
	{DoNotTamper, "38 4B 1C 0F 95 C1", 10, "AudioPicker.GetAudioClip"},
}

// Random.Range(float, float)
var floatRangeSites = []SiteSignature{
	{DoNotTamper, "83 7F 18 02 0F 86 1E 05 00 00", -4, "iTween.ApplyShakePositionTargets"},
	{DoNotTamper, "83 7F 18 02 0F 86 DA 04 00 00", -4, "iTween.ApplyShakePositionTargets"},
	{DoNotTamper, "83 7F 18 02 0F 86 96 04 00 00", -4, "iTween.ApplyShakePositionTargets"},
	{DoNotTamper, "83 7F 18 02 0F 86 EF 01 00 00", -4, "iTween.ApplyShakeScaleTargets"},
	{DoNotTamper, "83 7F 18 02 0F 86 A7 01 00 00", -4, "iTween.ApplyShakeScaleTargets"},
	{DoNotTamper, "83 7F 18 02 0F 86 5F 01 00 00", -4, "iTween.ApplyShakeScaleTargets"},
	{DoNotTamper, "83 7F 18 02 0F 86 E0 02 00 00", -4, "iTween.ApplyShakeRotationTargets"},
	{DoNotTamper, "83 7F 18 02 0F 86 9C 02 00 00", -4, "iTween.ApplyShakeRotationTargets"},
	{DoNotTamper, "83 7F 18 02 0F 86 58 02 00 00", -4, "iTween.ApplyShakeRotationTargets"},
	{DoNotTamper, "0F 29 70 E8 49 8B F8", 59, "DynamicOcclusionRaycasting.GetRandomVectorAround"},
	{DoNotTamper, "0F 29 70 E8 49 8B F8", 78, "DynamicOcclusionRaycasting.GetRandomVectorAround"},
	{DoNotTamper, "0F 29 70 E8 49 8B F8", 96, "DynamicOcclusionRaycasting.GetRandomVectorAround"},
	{DoNotTamper, "45 33 C0 F3 0F 10 47 58", 9, "EffectFlicker.CoUpdate"},
	{DoNotTamper, "45 33 C0 F3 0F 10 47 50", 9, "EffectFlicker.CoFlicker"},
	{DoNotTamper, "F3 0F 10 4F 64", 11, "EffectFlicker.CoFlicker"},
	{DoNotTamper, "CC F3 0F 10 49 04 45", 14, "FloatRegion.Random"},
	{DoNotTamper, "41 0F 28 CA 0F 11 43 20", 13, "LightGenerator.Generate"},
	{DoNotTamper, "41 0F 28 CA 0F 11 43 20", 37, "LightGenerator.Generate"},
	{DoNotTamper, "41 0F 28 CA 0F 11 43 20", 57, "LightGenerator.Generate"},
	{DoNotTamper, "45 33 C0 41 0F 28 CA 41", 12, "LightGenerator.Generate"},
	{DoNotTamper, "45 33 C0 41 0F 28 CA 41", 46, "LightGenerator.Generate"},
	{DoNotTamper, "45 33 C0 41 0F 28 CA 41", 76, "LightGenerator.Generate"},
	{DoNotTamper, "45 33 C0 41 0F 28 C8 0F 57", 11, "LightGenerator.Generate"},
	{DoNotTamper, "89 43 68 41 0F 28 CE", 12, "LightGenerator.Generate"},
	{DoNotTamper, "0F 28 CE 0F 57 C0 48", 10, "CustomControllerDemo_Player.Update"},
	{DoNotTamper, "0F 28 CE 0F 57 C0 48", 27, "CustomControllerDemo_Player.Update"},
	{DoNotTamper, "0F 28 CE 0F 57 C0 48", 45, "CustomControllerDemo_Player.Update"},
	{DoNotTamper, "F3 0F 10 4F 1C 45 33 C0 F3", 14, "ElectricArcObject.Start"},
	{DoNotTamper, "20 F3 0F 10 49 1C 45", 18, "ElectricArcObject.ResetTimer"},
	{DoNotTamper, "48 8B 4F 28 F3 0F 11 47 48", -4, "ElectricArcObject.Fire"},
	{SlotMachine, "0F 28 F0 4C 8B 4F 30", -4, "SlotMachineBrain.StartNewSpin"},
	{SlotMachine, "F3 0F 10 70 20 0F 28", 16, "SlotMachineWheel.StartSpinning"},
	{SlotMachine, "0F 28 F0 4C 8B 4F 30", -4, "SlotMachineWheel.StopSpinning"},
	{DoNotTamper, "F3 0F 10 4B 20 45 33 C0 F3", 14, "NoiseAndScratches.OnRenderImage"},
	{DoNotTamper, "F3 0F 10 4B 20 45 33 C0 F3", 35, "NoiseAndScratches.OnRenderImage"},
	{DoNotTamper, "48 8B 73 78 0F 28 F0", -4, "Flicker.OnUpdate"},
	{DoNotTamper, "F3 0F 10 43 38 0F 28 C8 45", 15, "RandomFloat.OnEnter"},
	{DoNotTamper, "48 8B 4F 70 0F 28 F0", 33, "Vector2RandomValue.DoRandomVector2"},
	{DoNotTamper, "0F 28 F0 48 85 C9 0F 84 68", 29, "Vector2RandomValue.DoRandomVector2"},
	{DoNotTamper, "44 0F 28 C0 0F 28 C8 0F 28 C7", 14, "Vector2RandomValue.DoRandomVector2"},
	{DoNotTamper, "F3 0F 11 87 88 00 00 00 45", 19, "Vector2RandomValue.DoRandomVector2"},
	{DoNotTamper, "F3 0F 10 4C 24 64 F3 0F 59 D0", -10, "Vector2RandomValue.DoRandomVector2"},
	{DoNotTamper, "0F 57 C9 F3 0F 11 43 74", -4, "RandomWait.OnEnter"},
	{DoNotTamper, "F3 41 0F 10 49 2C", 16, "ECprojectileActor.Fire"},
	{DoNotTamper, "45 33 C0 41 0F 28 CC 0F", 11, "NoiseAndGrain.DrawNoiseQuadGrid"},
	{DoNotTamper, "0F 57 C0 41 0F 28 CC", 13, "NoiseAndGrain.DrawNoiseQuadGrid"},
	{DoNotTamper, "F3 45 0F 5C D6 F3 41", -4, "DOTween.Shake"},
	{DoNotTamper, "0F 85 3C 01 00 00 41 0F 28", 22, "DOTween.Shake"},
	{DoNotTamper, "02 00 00 41 0F 28 C1 45 33 C0", 19, "DOTween.Shake"},
	{DoNotTamper, "80 79 08 00 F3 0F 10 01", 19, "FloatRegion.Next"},
	{DoNotTamper, "84 05 00 00 80 78 1C 00 75 0A", 34, "AudioEmitter.PlaySoundAtPosition"},
	{DoNotTamper, "47 05 00 00 80 78 1C 00 75 0A", 34, "AudioEmitter.PlaySoundAtPosition"},
	{DoNotTamper, "73 05 00 00 80 78 1C 00 75 0A", 34, "AudioEmitter.PlaySoundAtPosition"},
	{DoNotTamper, "36 05 00 00 80 78 1C 00 75 0A", 34, "AudioEmitter.PlaySoundAtPosition"},
	{DoNotTamper, "EB 2B F3 44 0F 10 84 24 90 00 00 00", -4, "BuildVolumeSpots.Refresh"},
	{DoNotTamper, "EB 2F F3 0F 10 BC 24 90 00 00 00", -4, "BuildVolumeSpots.Refresh"},
	{DoNotTamper, "44 0F 28 D8 E9 80 00 00 00", -4, "BuildVolumeSpots.AddGroupItems"},
	{DoNotTamper, "44 0F 28 D8 EB 3A", -4, "BuildVolumeSpots.AddGroupItems"},
	{DoNotTamper, "44 0F 28 D0 E9 80 00 00 00", -4, "BuildVolumeSpots.AddGroupItems"},
	{DoNotTamper, "44 0F 28 D0 EB 3A", -4, "BuildVolumeSpots.AddGroupItems"},
}
