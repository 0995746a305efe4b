package domain

// RetainImages keeps the attachment bytes of the keep most recent tool-result
// blocks and drops the rest in place. Dropped attachments keep their media
// type and are marked Omitted so block structure and ordering are unchanged.
// A negative keep disables retention and zero drops every attachment; session
// code goes through SessionConfig.ImageLimit. It returns the invocation ids whose
// attachments were dropped, newest first.
func RetainImages(msgs []Message, keep int) []string {
	if keep < 0 {
		return nil
	}
	var dropped []string
	seen := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		blocks := msgs[i].Content
		for j := len(blocks) - 1; j >= 0; j-- {
			b := &blocks[j]
			if b.Type != BlockToolResult || b.Attachment == nil || b.Attachment.Omitted {
				continue
			}
			if seen < keep {
				seen++
				continue
			}
			b.Attachment = &Attachment{MediaType: b.Attachment.MediaType, Omitted: true}
			dropped = append(dropped, b.ToolUseID)
		}
	}
	return dropped
}
