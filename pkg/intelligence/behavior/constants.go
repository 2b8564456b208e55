package behavior

// Built-in behavior tuning. Starting defaults, not physical constants.
const (
	// Propagation flags siblings once reach passes this level
	PropagationTriggerReach = 0.5

	// Infection seeds this much new exposure on a chance hit
	InfectionExposureStep = 0.01
	InfectionTriggerLevel = 0.3

	// Mutation fires with probability mutationRate*dt*scale per tick
	MutationChanceScale = 4.0
	MutationStep        = 0.1

	EncryptionHardening = 0.25

	EntanglementTriggerCoherence = 0.7

	SwarmNearbyBonus = 0.1
	SwarmMaxSize     = 1000.0
)

// Runner defaults
const (
	DefaultConcurrency = 4
)
