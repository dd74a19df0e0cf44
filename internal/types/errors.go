package types

import "errors"

// Sentinel errors for policydesk operations.
var (
	// ErrMixedCondition indicates a condition node carries more than one of field/any/all.
	ErrMixedCondition = errors.New("condition has more than one of field, any, all")

	// ErrInvalidCondition indicates a condition value could not be decoded.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrInvalidOperator indicates an operator outside the closed operator set.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrInvalidAction indicates an action other than allow, block, flag.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidPriority indicates a priority outside [MinPriority, MaxPriority].
	ErrInvalidPriority = errors.New("priority out of range")

	// ErrInvalidRule indicates a rule mapping with a wrongly typed field.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidPayload indicates a transaction payload that is not JSON.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrEmptyName indicates a rule or policy without a name.
	ErrEmptyName = errors.New("name is required")

	// ErrNodeNotFound indicates a condition tree lookup miss.
	ErrNodeNotFound = errors.New("condition node not found")

	// ErrInvalidPath indicates a malformed dot-delimited condition path.
	ErrInvalidPath = errors.New("invalid condition path")

	// ErrNotAGroup indicates a child was added to a node that is not an any/all group.
	ErrNotAGroup = errors.New("condition node is not a group")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrTooManyWildcards indicates a field path exceeds MaxNestedWildcards.
	ErrTooManyWildcards = errors.New("field path has too many wildcards")

	// ErrTooManyInValues indicates an in/not_in list exceeds MaxInOperatorValues.
	ErrTooManyInValues = errors.New("in operator has too many values")

	// ErrInvalidFieldPath indicates a malformed dotted field path.
	ErrInvalidFieldPath = errors.New("invalid field path")

	// ErrCoercionFailed indicates a payload value could not be converted to the literal's type.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrFieldNotFound indicates a field path could not be resolved.
	ErrFieldNotFound = errors.New("field not found")

	// ErrPolicyNotFound indicates no policy exists with the requested id.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrVersionNotFound indicates the requested policy version does not exist.
	ErrVersionNotFound = errors.New("policy version not found")

	// ErrTemplateNotFound indicates no policy template exists with the requested id.
	ErrTemplateNotFound = errors.New("policy template not found")

	// ErrInvalidTransition indicates a status change not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid policy status transition")

	// ErrAssetNotFound indicates no map layers are stored for the asset.
	ErrAssetNotFound = errors.New("asset layers not found")

	// ErrOverlayNotFound indicates the asset has no overlay with the requested id.
	ErrOverlayNotFound = errors.New("overlay not found")

	// ErrValidationFailed indicates a strict save was attempted with an invalid policy.
	ErrValidationFailed = errors.New("policy validation failed")
)
