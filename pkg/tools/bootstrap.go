package tools

// RegisterDefaults registers every built-in tool once, mirroring
// original_source/src/tools/registry.py's initialize_default_tools. Business
// and info-category tools named in the module map are not present in the
// retrieved original_source pack (only src/tools/telephony/* survived
// distillation) so only the telephony set is built here; see DESIGN.md.
func RegisterDefaults(r *Registry) {
	r.Register(TransferTool{})
	r.Register(AttendedTransferTool{})
	r.Register(HangupCallTool{})
	r.Register(VoicemailTool{})
}
